package batch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryString(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := &Summary{
		StartTime: start,
		Zones: []ZoneResult{
			{Zone: "UBS", Outcome: OutcomeCompleted, Succeeded: 1200, Failed: 34},
			{Zone: "HPH", Outcome: OutcomeProvisioningFailed},
		},
	}
	s.finish(start.Add(90 * time.Second))

	assert.Equal(t, 1234, s.Attempted())
	assert.Equal(t, 90*time.Second, s.Duration)
	assert.Equal(t, "1,234 merges attempted in 1m30s: 1,200 succeeded, 34 failed; incomplete zones: HPH (provisioning_failed)", s.String())

	s.Interrupted = true
	assert.Contains(t, s.String(), "; run interrupted")
}

func TestSummaryPath(t *testing.T) {
	assert.Equal(t, filepath.Join("log", "merge_2024_summary.json"), SummaryPath("log", "/data/merge_2024.xlsx"))
}

func TestWriteSummary(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	s := &Summary{
		RunID:       "run-1",
		Input:       "/data/merge.csv",
		Environment: "S",
		Zones:       []ZoneResult{{Zone: "UBS", Outcome: OutcomeCompleted, State: StateTeardown, Rows: 2, Succeeded: 2}},
	}

	path, err := WriteSummary(dir, s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "merge_summary.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	zones := decoded["zones"].([]interface{})
	zone := zones[0].(map[string]interface{})
	assert.Equal(t, "completed", zone["outcome"])
	assert.Equal(t, "TEARDOWN", zone["state"])
	assert.NotContains(t, zone, "error")
}
