package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDGenerator returns "<prefix>-0001", "<prefix>-0002", ...
//
// Deterministic run IDs keep golden output stable.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDGenerator creates a generator. An empty prefix becomes "run".
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
