package elt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/meltworks/melt/pkg/manifest"
	"github.com/meltworks/melt/pkg/metrics"
	"github.com/meltworks/melt/pkg/plugin"
	"github.com/meltworks/melt/pkg/selection"
	"github.com/meltworks/melt/pkg/singer"
)

// Runner executes pipelines declared in a manifest against a plugin
// registry.
type Runner struct {
	Manifest *manifest.Manifest
	Registry *plugin.Registry
	States   *StateStore
	Logger   *zap.Logger

	// BufferSize is the per-loader channel depth. Zero means 100, the
	// depth the record fan-out was tuned with.
	BufferSize int
}

// Result summarizes one pipeline run.
type Result struct {
	RunID            string
	ExtractedRecords int64
	// LoaderErrors maps loader name to its failure, for loaders that
	// did not complete. Successful loaders are absent.
	LoaderErrors map[string]error
}

// Failed reports whether any loader failed.
func (r *Result) Failed() bool { return len(r.LoaderErrors) > 0 }

type runningLoader struct {
	name   string
	decl   *manifest.Plugin
	impl   plugin.Loader
	ch     chan singer.Message
	failed bool
}

func (r *Runner) bufferSize() int {
	if r.BufferSize > 0 {
		return r.BufferSize
	}
	return 100
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// connectWithRetry dials a plugin, retrying transient failures with
// exponential backoff before giving up.
func connectWithRetry(p interface{ Connect(map[string]any) error }, config map[string]any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = 15 * time.Second
	return backoff.Retry(func() error { return p.Connect(config) }, bo)
}

// Run executes the pipeline: the named extractor feeding every named
// loader. An empty loader list runs all loaders declared in the
// manifest.
func (r *Runner) Run(ctx context.Context, extractorName string, loaderNames []string) (*Result, error) {
	result := &Result{
		RunID:        uuid.NewString(),
		LoaderErrors: map[string]error{},
	}
	logger := r.logger().With(
		zap.String("run_id", result.RunID),
		zap.String("extractor", extractorName),
	)

	timer := prometheus.NewTimer(metrics.RunDuration.WithLabelValues(extractorName))
	defer timer.ObserveDuration()

	decl := r.Manifest.Extractor(extractorName)
	if decl == nil {
		return nil, fmt.Errorf("extractor %q is not declared in the manifest", extractorName)
	}
	config, err := decl.NativeConfig()
	if err != nil {
		return nil, err
	}
	extractor, err := r.Registry.ResolveExtractor(decl)
	if err != nil {
		return nil, err
	}

	if err := connectWithRetry(extractor, config); err != nil {
		return nil, &plugin.RuntimeError{Plugin: decl.Name, Op: "connect", Err: err}
	}
	defer func() {
		if err := extractor.Disconnect(); err != nil {
			logger.Warn("extractor disconnect failed", zap.Error(err))
		}
	}()

	// Discovery runs exactly once per invocation; selection is
	// evaluated against its catalog.
	catalog, err := extractor.Discover(ctx)
	if err != nil {
		return nil, &plugin.RuntimeError{Plugin: decl.Name, Op: "discover", Err: err}
	}
	rules, err := decl.SelectionRules()
	if err != nil {
		return nil, err
	}
	selected := selection.Apply(rules, catalog)
	logger.Info("discovery complete",
		zap.Int("streams", len(catalog.Streams)),
		zap.Strings("selected", selected.Streams()))

	loaders, err := r.startLoaders(ctx, logger, loaderNames, result)
	if err != nil {
		return nil, err
	}

	state, err := r.States.Load(decl.Name)
	if err != nil {
		return nil, err
	}

	messages, err := extractor.Extract(ctx, selected, state)
	if err != nil {
		return nil, &plugin.RuntimeError{Plugin: decl.Name, Op: "extract", Err: err}
	}

	lastState := r.fanOut(ctx, logger, decl.Name, selected, messages, loaders, result)

	for _, l := range loaders.all {
		close(l.ch)
	}
	loaders.wait()

	for name, loadErr := range loaders.errors {
		result.LoaderErrors[name] = loadErr
	}
	for _, l := range loaders.all {
		if l.failed {
			metrics.LoadErrors.WithLabelValues(l.name).Inc()
		}
		if err := l.impl.Disconnect(); err != nil {
			logger.Warn("loader disconnect failed", zap.String("loader", l.name), zap.Error(err))
		}
	}

	// The extractor owns the terminal verdict on the record stream.
	if err := extractor.Err(); err != nil {
		return result, &plugin.RuntimeError{Plugin: decl.Name, Op: "extract", Err: err}
	}

	if lastState != nil {
		if err := r.States.Save(decl.Name, lastState); err != nil {
			return result, err
		}
	}

	logger.Info("run complete",
		zap.Int64("records", result.ExtractedRecords),
		zap.Int("failed_loaders", len(result.LoaderErrors)))
	return result, nil
}

type loaderSet struct {
	all []*runningLoader
	wg  sync.WaitGroup

	mu     sync.Mutex
	errors map[string]error
}

func (s *loaderSet) wait() { s.wg.Wait() }

func (s *loaderSet) fail(l *runningLoader, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.failed = true
	s.errors[l.name] = err
}

// startLoaders resolves, connects and starts a consumer goroutine per
// loader. A loader that cannot be resolved or connected is recorded as
// failed without stopping its siblings; only a pipeline with no
// runnable loader at all is fatal.
func (r *Runner) startLoaders(ctx context.Context, logger *zap.Logger, names []string, result *Result) (*loaderSet, error) {
	if len(names) == 0 {
		for _, l := range r.Manifest.Plugins.Loaders {
			names = append(names, l.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no loaders declared in the manifest")
	}

	set := &loaderSet{errors: map[string]error{}}
	for _, name := range names {
		decl := r.Manifest.Loader(name)
		if decl == nil {
			return nil, fmt.Errorf("loader %q is not declared in the manifest", name)
		}
		config, err := decl.NativeConfig()
		if err != nil {
			return nil, err
		}
		impl, err := r.Registry.ResolveLoader(decl)
		if err != nil {
			logger.Error("loader resolution failed", zap.String("loader", name), zap.Error(err))
			result.LoaderErrors[name] = err
			continue
		}
		if err := connectWithRetry(impl, config); err != nil {
			err = &plugin.RuntimeError{Plugin: name, Op: "connect", Err: err}
			logger.Error("loader connect failed", zap.String("loader", name), zap.Error(err))
			result.LoaderErrors[name] = err
			continue
		}

		l := &runningLoader{
			name: name,
			decl: decl,
			impl: impl,
			ch:   make(chan singer.Message, r.bufferSize()),
		}
		set.all = append(set.all, l)
		set.wg.Add(1)
		go func() {
			defer set.wg.Done()
			if err := l.impl.Load(ctx, l.ch); err != nil {
				set.fail(l, &plugin.RuntimeError{Plugin: l.name, Op: "load", Err: err})
				logger.Error("loader failed", zap.String("loader", l.name), zap.Error(err))
				// Keep draining so the fan-out never blocks on a dead
				// loader's channel.
				for range l.ch {
					metrics.DroppedRecords.WithLabelValues(l.name).Inc()
				}
			}
		}()
	}

	if len(set.all) == 0 {
		return nil, fmt.Errorf("no loader could be started: %v", result.LoaderErrors)
	}
	return set, nil
}

// fanOut distributes extractor messages to every loader channel,
// applying field-level selection to records and checkpointing state
// messages as they arrive. It returns the last state seen.
func (r *Runner) fanOut(
	ctx context.Context,
	logger *zap.Logger,
	extractorName string,
	selected selection.Set,
	messages <-chan singer.Message,
	loaders *loaderSet,
	result *Result,
) *singer.State {
	var lastState *singer.State

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return lastState
			}

			switch msg.Type {
			case singer.TypeRecord:
				if !selected.IsStreamSelected(msg.Record.Stream) {
					continue
				}
				msg = filterRecordFields(msg, selected)
				result.ExtractedRecords++
				metrics.ExtractedRecords.WithLabelValues(extractorName, msg.Record.Stream).Inc()
			case singer.TypeState:
				lastState = msg.State
				if err := r.States.Save(extractorName, msg.State); err != nil {
					logger.Warn("state checkpoint failed", zap.Error(err))
				}
			}

			for _, l := range loaders.all {
				select {
				case l.ch <- msg:
					if msg.Type == singer.TypeRecord {
						metrics.LoadedRecords.WithLabelValues(l.name, msg.Record.Stream).Inc()
					}
				case <-ctx.Done():
					return lastState
				}
			}

		case <-ctx.Done():
			logger.Info("run canceled, letting loaders flush")
			return lastState
		}
	}
}

// filterRecordFields strips fields that selection excluded. The record
// is copied; the extractor may still own the original map.
func filterRecordFields(msg singer.Message, selected selection.Set) singer.Message {
	rec := msg.Record
	keep := map[string]any{}
	for field, value := range rec.Data {
		if selected.IsFieldSelected(rec.Stream, field) {
			keep[field] = value
		}
	}
	filtered := *rec
	filtered.Data = keep
	msg.Record = &filtered
	return msg
}
