package testutil

import (
	"context"
	"sync"

	"github.com/roach88/adingest/internal/domain"
)

// RecordingSink captures batch summaries and overlap skips.
type RecordingSink struct {
	mu        sync.Mutex
	summaries []domain.BatchSummary
	skips     map[string]int
	err       error
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{skips: make(map[string]int)}
}

// FailWith makes RecordBatch return err after recording.
func (s *RecordingSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// RecordBatch records summary.
func (s *RecordingSink) RecordBatch(_ context.Context, summary domain.BatchSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return s.err
}

// RecordSkip counts an overlap skip for family.
func (s *RecordingSink) RecordSkip(family string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips[family]++
}

// Summaries returns a copy of the recorded summaries.
func (s *RecordingSink) Summaries() []domain.BatchSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BatchSummary, len(s.summaries))
	copy(out, s.summaries)
	return out
}

// Skips returns how many skips were recorded for family.
func (s *RecordingSink) Skips(family string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skips[family]
}
