package harness

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/testutil"
)

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: minimal
description: "one refresh"
steps:
  - op: refresh
    view: follow
`))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, OpRefresh, s.Steps[0].Op)
	assert.Equal(t, "follow", s.Steps[0].View)
	assert.Zero(t, s.PageSize)
}

func TestParseScenario_Checks(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: checks
description: "explicit checks"
steps:
  - op: expect
    view: unified
    ids: [p1, p2]
    offset: 0
    has_more: false
`))
	require.NoError(t, err)
	st := s.Steps[0]
	assert.Equal(t, []string{"p1", "p2"}, st.IDs)
	require.NotNil(t, st.Offset)
	assert.Equal(t, 0, *st.Offset)
	require.NotNil(t, st.HasMore)
	assert.False(t, *st.HasMore)
}

func TestParseScenario_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{
			name: "unknown top-level field",
			yaml: `
name: x
description: y
flavour: salty
steps:
  - op: sign_out
`,
			mention: "flavour",
		},
		{
			name: "unknown op",
			yaml: `
name: x
description: y
steps:
  - op: teleport
`,
			mention: "op",
		},
		{
			name: "react without emoji",
			yaml: `
name: x
description: y
steps:
  - op: react
    post: p1
`,
			mention: "emoji",
		},
		{
			name: "refresh without view",
			yaml: `
name: x
description: y
steps:
  - op: refresh
`,
			mention: "view",
		},
		{
			name: "bad duration",
			yaml: `
name: x
description: y
steps:
  - op: advance
    duration: soon
`,
			mention: "duration",
		},
		{
			name: "temp id without prefix",
			yaml: `
name: x
description: y
steps:
  - op: create_post
    draft:
      temp_id: abc
`,
			mention: "temp_id",
		},
		{
			name: "no steps",
			yaml: `
name: x
description: y
steps: []
`,
			mention: "steps",
		},
		{
			name: "page size out of range",
			yaml: `
name: x
description: y
page_size: 500
steps:
  - op: sign_out
`,
			mention: "page_size",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			require.NotEmpty(t, se.Problems)
			assert.Contains(t, strings.Join(se.Problems, "\n"), tt.mention)
		})
	}
}

func TestParseScenario_DuplicateSeedID(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: x
description: y
seed:
  - id: p1
  - id: p1
steps:
  - op: sign_out
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id p1")
}

func TestParseScenario_BadViewKey(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: x
description: y
steps:
  - op: refresh
    view: sideways
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[0]")
}

func TestParseScenario_InvalidYAML(t *testing.T) {
	_, err := ParseScenario([]byte("name: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Fixtures(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestSeedPost_Record(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		rec, err := SeedPost{ID: "p1"}.record("me")
		require.NoError(t, err)
		assert.Equal(t, "friend", rec["user_id"])
		assert.Equal(t, "status", rec["type"])
		assert.Equal(t, "post p1", rec["content"])
	})

	t.Run("circles imply groups visibility", func(t *testing.T) {
		rec, err := SeedPost{ID: "c1", Circles: []string{"runners"}}.record("me")
		require.NoError(t, err)
		assert.Equal(t, string(feed.VisibilityGroups), rec["visibility"])
		assert.Equal(t, []any{"runners"}, rec["circle_ids"])
	})

	t.Run("aggregate entries", func(t *testing.T) {
		rec, err := SeedPost{
			ID:      "agg",
			Author:  "me",
			Kind:    "daily_aggregate",
			Age:     "1h",
			Actions: []string{"run", "read"},
		}.record("me")
		require.NoError(t, err)
		assert.Equal(t, 2, rec["completed_count"])
		assert.Len(t, rec["completed_actions"], 2)
		assert.Equal(t, gateway.DayKey(testutil.Epoch.Add(-time.Hour)), rec["day_key"])
		assert.Equal(t, "", rec["content"])
	})

	t.Run("bad age", func(t *testing.T) {
		_, err := SeedPost{ID: "p1", Age: "yesterday"}.record("me")
		require.Error(t, err)
	})
}
