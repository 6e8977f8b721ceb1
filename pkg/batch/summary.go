package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Outcome is how the processing of a zone ended.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeNotSelected        Outcome = "not_selected"
	OutcomeProvisioningFailed Outcome = "provisioning_failed"
	OutcomeSessionFailed      Outcome = "session_failed"
	OutcomeAbandoned          Outcome = "abandoned"
	OutcomeInterrupted        Outcome = "interrupted"
)

// ZoneResult counts what happened to the rows of one zone.
type ZoneResult struct {
	Zone    string  `json:"zone"`
	Outcome Outcome `json:"outcome"`

	// State is the last state the zone reached
	State State `json:"state,omitempty"`

	Rows      int `json:"rows"`
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	Rebuilds  int `json:"session_rebuilds"`

	Error string `json:"error,omitempty"`
}

// Summary describes a whole run.
type Summary struct {
	RunID       string        `json:"run_id"`
	Input       string        `json:"input"`
	Environment string        `json:"environment"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	Interrupted bool          `json:"interrupted"`

	Rows      int `json:"rows"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	Zones []ZoneResult `json:"zones"`
}

func (s *Summary) finish(end time.Time) {
	s.EndTime = end
	s.Duration = end.Sub(s.StartTime)
	s.Succeeded, s.Failed = 0, 0
	for _, z := range s.Zones {
		s.Succeeded += z.Succeeded
		s.Failed += z.Failed
	}
}

// Attempted returns the number of rows a merge was attempted for.
func (s *Summary) Attempted() int {
	return s.Succeeded + s.Failed
}

// String renders the one line report logged at the end of a run.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s merges attempted in %s: %s succeeded, %s failed",
		humanize.Comma(int64(s.Attempted())),
		s.Duration.Round(time.Second),
		humanize.Comma(int64(s.Succeeded)),
		humanize.Comma(int64(s.Failed)),
	)

	var skipped []string
	for _, z := range s.Zones {
		if z.Outcome != OutcomeCompleted {
			skipped = append(skipped, fmt.Sprintf("%s (%s)", z.Zone, z.Outcome))
		}
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "; incomplete zones: %s", strings.Join(skipped, ", "))
	}
	if s.Interrupted {
		b.WriteString("; run interrupted")
	}
	return b.String()
}

// SummaryPath returns where the summary of the run on inputPath is written.
func SummaryPath(dir, inputPath string) string {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(dir, base+"_summary.json")
}

// WriteSummary writes the summary as JSON into dir and returns its path.
func WriteSummary(dir string, summary *Summary) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := SummaryPath(dir, summary.Input)
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run summary: %w", err)
	}

	if writeErr := os.WriteFile(path, data, 0600); writeErr != nil {
		return "", fmt.Errorf("failed to write run summary: %w", writeErr)
	}
	return path, nil
}
