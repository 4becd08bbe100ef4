package melt

import (
	"fmt"

	"github.com/meltworks/melt/pkg/manifest"
	"github.com/meltworks/melt/pkg/plugin"
	"github.com/meltworks/melt/pkg/plugin/tap/gitlab"
	"github.com/meltworks/melt/pkg/plugin/target/clickhouse"
	"github.com/meltworks/melt/pkg/plugin/target/debug"
	"github.com/meltworks/melt/pkg/plugin/target/jsonl"
	"github.com/meltworks/melt/pkg/plugin/target/kafka"
	"github.com/meltworks/melt/pkg/plugin/target/mqtt"
	"github.com/meltworks/melt/pkg/plugin/target/nats"
	"github.com/meltworks/melt/pkg/plugin/target/postgres"
	"github.com/meltworks/melt/pkg/plugin/target/sqlite"
)

// newRegistry returns a registry with every builtin plugin registered.
// Plugins declared in the manifest but absent here are resolved through
// the installer at run time.
func newRegistry() *plugin.Registry {
	r := plugin.NewRegistry(plugin.NewInstaller(cfg.PluginsDir))

	r.RegisterExtractor("tap-gitlab", gitlab.New(), "catalog", "discover", "state")

	r.RegisterLoader("target-jsonl", jsonl.New())
	r.RegisterLoader("target-sqlite", sqlite.New())
	r.RegisterLoader("target-postgres", postgres.New())
	r.RegisterLoader("target-kafka", kafka.New())
	r.RegisterLoader("target-nats", nats.New())
	r.RegisterLoader("target-mqtt", mqtt.New())
	r.RegisterLoader("target-clickhouse", clickhouse.New())
	r.RegisterLoader("target-debug", debug.New())

	return r
}

func loadManifest() (*manifest.Manifest, error) {
	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", cfg.ManifestPath, err)
	}
	return m, nil
}
