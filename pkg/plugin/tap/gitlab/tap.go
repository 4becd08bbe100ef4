// Package gitlab provides a builtin extractor for the GitLab REST API.
// It discovers a fixed catalog of project and group streams and
// replicates them incrementally using per-stream bookmarks.
package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/meltworks/melt/pkg/selection"
	"github.com/meltworks/melt/pkg/singer"
)

type Config struct {
	APIURL       string `mapstructure:"api_url"`
	PrivateToken string `mapstructure:"private_token"`

	// Projects and Groups are space-separated lists of project paths
	// (namespace/name) and group names to replicate.
	Projects string `mapstructure:"projects"`
	Groups   string `mapstructure:"groups"`

	StartDate time.Time `mapstructure:"start_date"`

	UltimateLicense          bool `mapstructure:"ultimate_license"`
	FetchMergeRequestCommits bool `mapstructure:"fetch_merge_request_commits"`
	FetchPipelinesExtended   bool `mapstructure:"fetch_pipelines_extended"`

	// RequestsCachePath enables the on-disk response cache when set.
	RequestsCachePath string `mapstructure:"requests_cache_path"`
}

type Tap struct {
	cfg    Config
	client *client
	err    error
}

// New returns a GitLab extractor.
func New() *Tap {
	return &Tap{}
}

func (t *Tap) Connect(config map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
		Result:     &t.cfg,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("gitlab config: %w", err)
	}
	if t.cfg.PrivateToken == "" {
		return errors.New("gitlab config: private_token is required")
	}
	if t.cfg.Projects == "" && t.cfg.Groups == "" {
		return errors.New("gitlab config: at least one of projects, groups is required")
	}

	t.client = newClient(t.cfg.APIURL, t.cfg.PrivateToken, t.cfg.RequestsCachePath)
	return nil
}

// gated reports whether the stream's config gate, if any, is open.
func (t *Tap) gated(def *streamDef) bool {
	switch def.Gate {
	case "":
		return true
	case "ultimate_license":
		return t.cfg.UltimateLicense
	case "fetch_merge_request_commits":
		return t.cfg.FetchMergeRequestCommits
	case "fetch_pipelines_extended":
		return t.cfg.FetchPipelinesExtended
	default:
		return false
	}
}

func (t *Tap) Discover(_ context.Context) (*singer.Catalog, error) {
	catalog := &singer.Catalog{}
	for i := range streams {
		def := &streams[i]
		if !t.gated(def) {
			continue
		}
		catalog.Streams = append(catalog.Streams, singer.Stream{
			Name:          def.Name,
			Schema:        def.Schema,
			KeyProperties: def.Keys,
		})
	}
	return catalog, nil
}

func (t *Tap) Extract(ctx context.Context, selected selection.Set, state *singer.State) (<-chan singer.Message, error) {
	if t.client == nil {
		return nil, errors.New("gitlab extractor not connected")
	}

	out := make(chan singer.Message, 100)
	next := state.Clone()
	if next == nil {
		next = &singer.State{}
	}
	if next.Bookmarks == nil {
		next.Bookmarks = map[string]json.RawMessage{}
	}

	go func() {
		defer close(out)
		for i := range streams {
			def := &streams[i]
			if !t.gated(def) || !selected.IsStreamSelected(def.Name) {
				continue
			}
			if err := t.extractStream(ctx, def, next, out); err != nil {
				t.err = fmt.Errorf("stream %s: %w", def.Name, err)
				return
			}
			if !send(ctx, out, singer.NewState(next)) {
				return
			}
		}
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- singer.Message, msg singer.Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

type bookmark struct {
	Since string `json:"since,omitempty"`
}

func (t *Tap) extractStream(ctx context.Context, def *streamDef, state *singer.State, out chan<- singer.Message) error {
	if !send(ctx, out, singer.NewSchema(def.Name, def.Schema, def.Keys...)) {
		return ctx.Err()
	}

	var bm bookmark
	if raw, ok := state.Bookmarks[def.Name]; ok {
		if err := json.Unmarshal(raw, &bm); err != nil {
			return fmt.Errorf("corrupt bookmark: %w", err)
		}
	}
	since := bm.Since
	if since == "" && !t.cfg.StartDate.IsZero() {
		since = t.cfg.StartDate.Format(time.RFC3339)
	}

	maxSeen := since
	emit := func(row map[string]any) bool {
		if def.ReplicationKey != "" {
			if v, ok := row[def.ReplicationKey].(string); ok && v > maxSeen {
				maxSeen = v
			}
		}
		return send(ctx, out, singer.NewRecord(def.Name, row))
	}

	var err error
	switch {
	case def.Parent != "":
		err = t.extractChildren(ctx, def, emit)
	case strings.Contains(def.Path, "{group}"):
		err = t.extractForGroups(ctx, def, since, emit)
	default:
		err = t.extractForProjects(ctx, def, since, emit)
	}
	if err != nil {
		return err
	}

	if def.ReplicationKey != "" && maxSeen != "" {
		raw, err := json.Marshal(bookmark{Since: maxSeen})
		if err != nil {
			return err
		}
		state.Bookmarks[def.Name] = raw
	}
	return nil
}

func (t *Tap) projects() []string {
	return strings.Fields(t.cfg.Projects)
}

func (t *Tap) groups() []string {
	return strings.Fields(t.cfg.Groups)
}

func listParams(def *streamDef, since string) url.Values {
	params := url.Values{}
	if def.ReplicationKey != "" {
		params.Set("sort", "asc")
		params.Set("order_by", def.ReplicationKey)
		if since != "" {
			params.Set("since", since)
		}
	}
	return params
}

func (t *Tap) extractForProjects(ctx context.Context, def *streamDef, since string, emit func(map[string]any) bool) error {
	for _, project := range t.projects() {
		path := strings.ReplaceAll(def.Path, "{project}", url.QueryEscape(project))

		// The projects stream addresses a single object, not a list.
		if def.Name == "projects" {
			row, err := t.client.getOne(ctx, path)
			if err != nil {
				return err
			}
			if !emit(row) {
				return ctx.Err()
			}
			continue
		}

		rows, err := t.client.getAll(ctx, path, listParams(def, since))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !emit(row) {
				return ctx.Err()
			}
		}
	}
	return nil
}

func (t *Tap) extractForGroups(ctx context.Context, def *streamDef, since string, emit func(map[string]any) bool) error {
	if len(t.groups()) == 0 {
		return fmt.Errorf("the %s stream requires the groups setting", def.Name)
	}
	for _, group := range t.groups() {
		path := strings.ReplaceAll(def.Path, "{group}", url.QueryEscape(group))
		rows, err := t.client.getAll(ctx, path, listParams(def, since))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !emit(row) {
				return ctx.Err()
			}
		}
	}
	return nil
}

// extractChildren fetches one child request per parent record, eg the
// commits of every merge request.
func (t *Tap) extractChildren(ctx context.Context, def *streamDef, emit func(map[string]any) bool) error {
	parent := streamByName(def.Parent)
	if parent == nil {
		return fmt.Errorf("unknown parent stream %q", def.Parent)
	}

	for _, project := range t.projects() {
		parentPath := strings.ReplaceAll(parent.Path, "{project}", url.QueryEscape(project))
		parents, err := t.client.getAll(ctx, parentPath, nil)
		if err != nil {
			return err
		}

		for _, p := range parents {
			key, ok := parentKey(p, def.ParentKey)
			if !ok {
				continue
			}
			path := strings.ReplaceAll(def.Path, "{project}", url.QueryEscape(project))
			path = strings.ReplaceAll(path, "{parent}", key)

			// Detail endpoints return one object; the rest return lists.
			if strings.HasSuffix(path, key) {
				row, err := t.client.getOne(ctx, path)
				if err != nil {
					return err
				}
				if !emit(row) {
					return ctx.Err()
				}
				continue
			}

			rows, err := t.client.getAll(ctx, path, nil)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if !emit(row) {
					return ctx.Err()
				}
			}
		}
	}
	return nil
}

// parentKey renders the parent record's key field for URL interpolation.
// JSON numbers arrive as float64.
func parentKey(row map[string]any, field string) (string, bool) {
	switch v := row[field].(type) {
	case string:
		return v, true
	case float64:
		return fmt.Sprintf("%.0f", v), true
	default:
		return "", false
	}
}

func (t *Tap) Err() error {
	return t.err
}

func (t *Tap) Disconnect() error {
	return nil
}
