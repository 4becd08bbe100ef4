package plugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/meltworks/melt/pkg/util"
)

// Installer resolves package locators into runnable plugin executables.
// Each plugin gets its own virtualenv under the install root, so
// conflicting python dependencies between plugins cannot collide.
type Installer struct {
	// Root is the directory plugin environments are created in,
	// typically <project>/.melt/plugins.
	Root string

	// Python is the interpreter used to create environments.
	Python string
}

// NewInstaller returns an installer rooted at dir. MELT_PYTHON
// overrides the interpreter used to create environments.
func NewInstaller(dir string) *Installer {
	return &Installer{Root: dir, Python: util.GetEnvOrDefault("MELT_PYTHON", "python3")}
}

func (i *Installer) envDir(name string) string {
	return filepath.Join(i.Root, name)
}

func (i *Installer) execPath(name string) string {
	return filepath.Join(i.envDir(name), "bin", name)
}

// Installed reports whether the plugin's executable already exists.
func (i *Installer) Installed(name string) bool {
	info, err := os.Stat(i.execPath(name))
	return err == nil && !info.IsDir()
}

// Install creates the plugin's environment and installs the package
// from its locator. Already installed plugins are reinstalled in place;
// pip resolves whether anything changed.
func (i *Installer) Install(ctx context.Context, name, locator string) error {
	env := i.envDir(name)
	if err := os.MkdirAll(i.Root, 0o755); err != nil {
		return fmt.Errorf("create install root: %w", err)
	}

	if _, err := os.Stat(filepath.Join(env, "bin", "pip")); err != nil {
		venv := exec.CommandContext(ctx, i.Python, "-m", "venv", env)
		if out, err := venv.CombinedOutput(); err != nil {
			return fmt.Errorf("create environment for %s: %w: %s", name, err, strings.TrimSpace(string(out)))
		}
	}

	pip := exec.CommandContext(ctx, filepath.Join(env, "bin", "pip"), "install", "--quiet", locator)
	if out, err := pip.CombinedOutput(); err != nil {
		return fmt.Errorf("install %s from %s: %w: %s", name, locator, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Resolve returns the path of the plugin's executable, installing it
// first if needed. Locators that point at an existing executable on
// disk are returned as-is, which keeps locally built plugins usable
// without an install step.
func (i *Installer) Resolve(name, locator string) (string, error) {
	if info, err := os.Stat(locator); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
		return locator, nil
	}

	if !i.Installed(name) {
		if err := i.Install(context.Background(), name, locator); err != nil {
			return "", err
		}
	}
	if !i.Installed(name) {
		return "", fmt.Errorf("install of %s from %s produced no %s executable", name, locator, i.execPath(name))
	}
	return i.execPath(name), nil
}
