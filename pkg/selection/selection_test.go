package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltworks/melt/pkg/singer"
)

func streamWithFields(name string, fields ...string) singer.Stream {
	props := map[string]any{}
	for _, f := range fields {
		props[f] = map[string]any{"type": "string"}
	}
	return singer.Stream{Name: name, Schema: map[string]any{"type": "object", "properties": props}}
}

func testCatalog() *singer.Catalog {
	return &singer.Catalog{Streams: []singer.Stream{
		streamWithFields("projects", "id", "name", "path"),
		streamWithFields("commits", "id", "message"),
		streamWithFields("jobs", "id", "status"),
		streamWithFields("pipelines_extended", "id", "duration"),
	}}
}

func TestParseRule(t *testing.T) {
	testCases := []struct {
		raw     string
		want    Rule
		wantErr bool
	}{
		{raw: "*.*", want: Rule{Raw: "*.*", Stream: "*", Field: "*"}},
		{raw: "commits.id", want: Rule{Raw: "commits.id", Stream: "commits", Field: "id"}},
		{raw: "projects", want: Rule{Raw: "projects", Stream: "projects"}},
		{raw: "!jobs", want: Rule{Raw: "!jobs", Stream: "jobs", Exclude: true}},
		{raw: "!commits.message", want: Rule{Raw: "!commits.message", Stream: "commits", Field: "message", Exclude: true}},
		{raw: "", wantErr: true},
		{raw: "!", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseRule(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestApplySelectAll(t *testing.T) {
	rules, err := ParseRules([]string{"*.*"})
	require.NoError(t, err)

	set := Apply(rules, testCatalog())
	assert.Equal(t, []string{"commits", "jobs", "pipelines_extended", "projects"}, set.Streams())
	assert.True(t, set.IsFieldSelected("projects", "path"))
	assert.True(t, set.IsFieldSelected("jobs", "status"))
}

func TestApplyExclusionsRemoveStreams(t *testing.T) {
	rules, err := ParseRules([]string{"*.*", "!jobs", "!pipelines_extended"})
	require.NoError(t, err)

	set := Apply(rules, testCatalog())
	assert.Equal(t, []string{"commits", "projects"}, set.Streams())
	assert.False(t, set.IsStreamSelected("jobs"))
	assert.False(t, set.IsFieldSelected("jobs", "id"))
}

func TestExclusionOrderIndependence(t *testing.T) {
	before, err := ParseRules([]string{"!jobs", "*.*"})
	require.NoError(t, err)
	after, err := ParseRules([]string{"*.*", "!jobs"})
	require.NoError(t, err)

	cat := testCatalog()
	assert.Equal(t, Apply(before, cat), Apply(after, cat))
	assert.False(t, Apply(before, cat).IsStreamSelected("jobs"))
}

func TestFieldLevelExclusion(t *testing.T) {
	rules, err := ParseRules([]string{"commits.*", "!commits.message"})
	require.NoError(t, err)

	set := Apply(rules, testCatalog())
	assert.True(t, set.IsFieldSelected("commits", "id"))
	assert.False(t, set.IsFieldSelected("commits", "message"))
}

func TestOverlappingInclusionsAreUnioned(t *testing.T) {
	rules, err := ParseRules([]string{"commits.id", "*.*", "commits.*"})
	require.NoError(t, err)

	set := Apply(rules, testCatalog())
	// Re-including an already included stream is a no-op.
	assert.True(t, set.IsFieldSelected("commits", "id"))
	assert.True(t, set.IsFieldSelected("commits", "message"))
	assert.True(t, set.IsStreamSelected("projects"))
}

func TestStreamOnlyInclusionSelectsWholeStream(t *testing.T) {
	rules, err := ParseRules([]string{"projects"})
	require.NoError(t, err)

	set := Apply(rules, testCatalog())
	assert.True(t, set.IsStreamSelected("projects"))
	// No field granularity specified: every field is considered selected.
	assert.True(t, set.IsFieldSelected("projects", "name"))
	assert.False(t, set.IsStreamSelected("commits"))
}
