package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario file and compares its trace against the
// matching golden file.
func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)
			require.Equal(t, name, s.Name, "scenario name must match its file")

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestMarshalTrace_Format(t *testing.T) {
	data, err := MarshalTrace("empty", nil)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"scenario_name\": \"empty\",\n  \"trace\": []\n}\n", string(data))
}

func TestMarshalTrace_OmitsUnsetFields(t *testing.T) {
	data, err := MarshalTrace("x", []TraceEvent{{Type: EventRejected, Code: "VALUE_MISMATCH"}})
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"code": "VALUE_MISMATCH"`)
	assert.NotContains(t, s, `"index"`)
	assert.NotContains(t, s, `"event_id"`)
	assert.NotContains(t, s, `"timestamp"`)
}
