package domain

import "time"

// TaskOutcome is the immutable record of one task in one batch run.
type TaskOutcome struct {
	Task     string        `json:"task"`
	Success  bool          `json:"success"`
	Count    int           `json:"count"`
	Attempts int           `json:"attempts"`
	Timeout  bool          `json:"timeout,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// BatchSummary aggregates the outcomes of one schedule-family run.
// Details are in completion order, not dispatch order.
type BatchSummary struct {
	RunID        string        `json:"run_id"`
	Family       string        `json:"family"`
	StartedAt    time.Time     `json:"started_at"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Total        int           `json:"total"`
	TotalRecords int           `json:"total_records"`
	DurationMs   int64         `json:"duration_ms"`
	Details      []TaskOutcome `json:"details"`
}

// Summarize builds a BatchSummary from outcomes.
func Summarize(runID, family string, startedAt time.Time, elapsed time.Duration, outcomes []TaskOutcome) BatchSummary {
	s := BatchSummary{
		RunID:      runID,
		Family:     family,
		StartedAt:  startedAt,
		Total:      len(outcomes),
		DurationMs: elapsed.Milliseconds(),
		Details:    make([]TaskOutcome, len(outcomes)),
	}
	copy(s.Details, outcomes)
	for _, o := range outcomes {
		if o.Success {
			s.Succeeded++
			s.TotalRecords += o.Count
		} else {
			s.Failed++
		}
	}
	return s
}
