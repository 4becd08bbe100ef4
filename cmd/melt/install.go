package melt

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meltworks/melt/pkg/manifest"
	"github.com/meltworks/melt/pkg/plugin"
)

var installCmd = &cobra.Command{
	Use:   "install [plugin...]",
	Short: "Install manifest plugins that are not built in",
	Long: `Install the named plugins, or every declared plugin when none are
named. Builtin plugins and plugins without a pip_url are skipped.`,
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	m, err := loadManifest()
	if err != nil {
		return err
	}

	registry := newRegistry()
	installer := plugin.NewInstaller(cfg.PluginsDir)

	requested := map[string]bool{}
	for _, name := range args {
		requested[name] = true
	}

	var declared []*manifest.Plugin
	for i := range m.Plugins.Extractors {
		declared = append(declared, &m.Plugins.Extractors[i])
	}
	for i := range m.Plugins.Loaders {
		declared = append(declared, &m.Plugins.Loaders[i])
	}

	installed := 0
	for _, decl := range declared {
		if len(requested) > 0 && !requested[decl.Name] {
			continue
		}
		delete(requested, decl.Name)

		if registry.IsBuiltin(decl.Name) {
			logger.Info("plugin is built in, skipping", zap.String("plugin", decl.Name))
			continue
		}
		if decl.PipURL == "" {
			logger.Warn("plugin has no pip_url, skipping", zap.String("plugin", decl.Name))
			continue
		}

		logger.Info("installing plugin",
			zap.String("plugin", decl.Name),
			zap.String("pip_url", decl.PipURL))
		if err := installer.Install(cmd.Context(), decl.Name, decl.PipURL); err != nil {
			return fmt.Errorf("install %s: %w", decl.Name, err)
		}
		installed++
	}

	for name := range requested {
		return fmt.Errorf("plugin %q not declared in manifest", name)
	}

	logger.Info("install finished", zap.Int("installed", installed))
	return nil
}
