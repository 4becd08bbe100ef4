package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/meltworks/melt/pkg/selection"
	"github.com/meltworks/melt/pkg/singer"
)

// execPlugin is the shared half of subprocess-backed plugins. Config is
// written to a file rather than passed on the command line so secrets
// never show up in the process table.
type execPlugin struct {
	name       string
	path       string
	logger     *zap.Logger
	configPath string
}

func (p *execPlugin) writeConfig(config map[string]any) error {
	dir, err := os.MkdirTemp("", "melt-"+p.name+"-")
	if err != nil {
		return err
	}
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	p.configPath = path
	return nil
}

func (p *execPlugin) cleanup() error {
	if p.configPath == "" {
		return nil
	}
	err := os.RemoveAll(filepath.Dir(p.configPath))
	p.configPath = ""
	return err
}

// forwardStderr logs the subprocess's stderr line by line.
func (p *execPlugin) forwardStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.logger.Info(sc.Text(), zap.String("plugin", p.name))
	}
}

// ExecExtractor drives an external extractor executable. The subprocess
// contract: `--config <file> --discover` prints the catalog on stdout;
// `--config <file> [--catalog <file>] [--state <file>]` streams
// newline-delimited SCHEMA/RECORD/STATE messages on stdout.
type ExecExtractor struct {
	execPlugin
	mu  sync.Mutex
	err error
}

// NewExecExtractor wraps the executable at path as an Extractor.
func NewExecExtractor(name, path string) *ExecExtractor {
	logger, _ := zap.NewProduction()
	return &ExecExtractor{execPlugin: execPlugin{name: name, path: path, logger: logger}}
}

func (e *ExecExtractor) Connect(config map[string]any) error {
	if err := e.writeConfig(config); err != nil {
		return &RuntimeError{Plugin: e.name, Op: "connect", Err: err}
	}
	return nil
}

func (e *ExecExtractor) Discover(ctx context.Context) (*singer.Catalog, error) {
	cmd := exec.CommandContext(ctx, e.path, "--config", e.configPath, "--discover")
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &RuntimeError{Plugin: e.name, Op: "discover", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &RuntimeError{Plugin: e.name, Op: "discover", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &RuntimeError{Plugin: e.name, Op: "discover", Err: err}
	}
	go e.forwardStderr(stderr)

	var catalog singer.Catalog
	decodeErr := json.NewDecoder(stdout).Decode(&catalog)
	if err := cmd.Wait(); err != nil {
		return nil, &RuntimeError{Plugin: e.name, Op: "discover", Err: err}
	}
	if decodeErr != nil {
		return nil, &RuntimeError{Plugin: e.name, Op: "discover", Err: fmt.Errorf("malformed catalog: %w", decodeErr)}
	}
	return &catalog, nil
}

func (e *ExecExtractor) Extract(ctx context.Context, selected selection.Set, state *singer.State) (<-chan singer.Message, error) {
	args := []string{"--config", e.configPath}

	dir := filepath.Dir(e.configPath)
	if len(selected) > 0 {
		catalogPath := filepath.Join(dir, "catalog.json")
		data, err := json.Marshal(selected)
		if err == nil {
			err = os.WriteFile(catalogPath, data, 0o600)
		}
		if err != nil {
			return nil, &RuntimeError{Plugin: e.name, Op: "extract", Err: err}
		}
		args = append(args, "--catalog", catalogPath)
	}
	if state != nil {
		statePath := filepath.Join(dir, "state.json")
		data, err := json.Marshal(state)
		if err == nil {
			err = os.WriteFile(statePath, data, 0o600)
		}
		if err != nil {
			return nil, &RuntimeError{Plugin: e.name, Op: "extract", Err: err}
		}
		args = append(args, "--state", statePath)
	}

	cmd := exec.CommandContext(ctx, e.path, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &RuntimeError{Plugin: e.name, Op: "extract", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &RuntimeError{Plugin: e.name, Op: "extract", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &RuntimeError{Plugin: e.name, Op: "extract", Err: err}
	}
	go e.forwardStderr(stderr)

	out := make(chan singer.Message, 100)
	go func() {
		defer close(out)

		dec := singer.NewDecoder(stdout)
		for {
			msg, err := dec.Decode()
			if err == io.EOF {
				break
			}
			if err != nil {
				e.setErr(&RuntimeError{Plugin: e.name, Op: "extract", Err: err})
				break
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				e.setErr(ctx.Err())
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				return
			}
		}
		if err := cmd.Wait(); err != nil {
			e.setErr(&RuntimeError{Plugin: e.name, Op: "extract", Err: err})
		}
	}()

	return out, nil
}

func (e *ExecExtractor) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
	}
}

func (e *ExecExtractor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *ExecExtractor) Disconnect() error {
	return e.cleanup()
}

// ExecLoader drives an external loader executable: messages are written
// to its stdin as newline-delimited JSON; the loader's final state
// output on stdout is logged and discarded.
type ExecLoader struct {
	execPlugin
}

// NewExecLoader wraps the executable at path as a Loader.
func NewExecLoader(name, path string) *ExecLoader {
	logger, _ := zap.NewProduction()
	return &ExecLoader{execPlugin: execPlugin{name: name, path: path, logger: logger}}
}

func (l *ExecLoader) Connect(config map[string]any) error {
	if err := l.writeConfig(config); err != nil {
		return &RuntimeError{Plugin: l.name, Op: "connect", Err: err}
	}
	return nil
}

func (l *ExecLoader) Load(ctx context.Context, messages <-chan singer.Message) error {
	cmd := exec.CommandContext(ctx, l.path, "--config", l.configPath)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &RuntimeError{Plugin: l.name, Op: "load", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &RuntimeError{Plugin: l.name, Op: "load", Err: err}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &RuntimeError{Plugin: l.name, Op: "load", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &RuntimeError{Plugin: l.name, Op: "load", Err: err}
	}
	go l.forwardStderr(stderr)
	go func() {
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			l.logger.Debug("loader state output", zap.String("plugin", l.name), zap.String("line", sc.Text()))
		}
	}()

	enc := singer.NewEncoder(stdin)
	var writeErr error
	for msg := range messages {
		if writeErr != nil {
			continue // drain, the subprocess already failed
		}
		if err := enc.Encode(msg); err != nil {
			writeErr = err
		}
	}
	if err := stdin.Close(); err != nil && writeErr == nil {
		writeErr = err
	}

	if err := cmd.Wait(); err != nil {
		return &RuntimeError{Plugin: l.name, Op: "load", Err: err}
	}
	if writeErr != nil {
		return &RuntimeError{Plugin: l.name, Op: "load", Err: writeErr}
	}
	return nil
}

func (l *ExecLoader) Disconnect() error {
	return l.cleanup()
}
