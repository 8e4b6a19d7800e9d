// Package harness replays reconciliation scenarios written in YAML against
// a fresh in-memory store and a fixed clock.
//
// # Scenario Format
//
//	name: counter_growth
//	description: "Counter deltas become synthetic clicks"
//	timezone: Asia/Tokyo
//	source: partner
//	steps:
//	  - at: "2026-03-14T10:00:00+09:00"
//	    observe:
//	      - { entity: ad-1, total: 50 }
//	    expect: { events: 50, bootstrapped: 1 }
//	  - at: "2026-03-14T10:05:00+09:00"
//	    events:
//	      kind: action
//	      items:
//	        - { entity: ad-1, at: "2026-03-14T10:01:00+09:00", reward: 300 }
//	assertions:
//	  - { type: event_count, entity: ad-1, kind: click, count: 50 }
//	  - { type: snapshot, entity: ad-1, day: "2026-03-14", total: 50 }
//
// Each step sets the clock to its at time and then either reconciles the
// observed counters or ingests the listed events.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/adingest/internal/domain"
)

// Scenario is one replayable reconciliation sequence.
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Timezone    string        `yaml:"timezone,omitempty"`
	Window      time.Duration `yaml:"window,omitempty"`
	QueryParam  string        `yaml:"query_param,omitempty"`
	Source      string        `yaml:"source"`
	Steps       []Step        `yaml:"steps"`
	Assertions  []Assertion   `yaml:"assertions"`
}

// Step is one engine call at a fixed instant.
type Step struct {
	At      string        `yaml:"at"`
	Observe []Observation `yaml:"observe,omitempty"`
	Events  *EventBatch   `yaml:"events,omitempty"`
	Expect  *Expect       `yaml:"expect,omitempty"`
}

// Observation is one cumulative counter reading.
type Observation struct {
	Entity      string `yaml:"entity"`
	Total       int64  `yaml:"total"`
	ReferrerURL string `yaml:"referrer_url,omitempty"`
}

// EventBatch is a set of individually reported events.
type EventBatch struct {
	Kind    string      `yaml:"kind"`
	Refresh bool        `yaml:"refresh,omitempty"`
	Items   []EventItem `yaml:"items"`
}

// EventItem is one reported event.
type EventItem struct {
	Entity      string `yaml:"entity"`
	At          string `yaml:"at"`
	ReferrerURL string `yaml:"referrer_url,omitempty"`
	Reward      *int64 `yaml:"reward,omitempty"`
}

// Expect checks fields of the step's report. Nil fields are not checked.
type Expect struct {
	Events       *int `yaml:"events,omitempty"`
	Bootstrapped *int `yaml:"bootstrapped,omitempty"`
	Unchanged    *int `yaml:"unchanged,omitempty"`
	Failed       *int `yaml:"failed,omitempty"`
}

// Assertion checks final store state.
type Assertion struct {
	Type   string `yaml:"type"`
	Entity string `yaml:"entity,omitempty"`
	Kind   string `yaml:"kind,omitempty"`
	Day    string `yaml:"day,omitempty"`
	Value  string `yaml:"value,omitempty"`
	Count  *int   `yaml:"count,omitempty"`
	Total  *int64 `yaml:"total,omitempty"`
}

// Assertion types.
const (
	AssertEventCount       = "event_count"
	AssertSnapshot         = "snapshot"
	AssertNoSnapshot       = "no_snapshot"
	AssertUniqueTimestamps = "unique_timestamps"
	AssertReferrerCount    = "referrer_count"
)

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Source == "" {
		return fmt.Errorf("source is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}

	for i, step := range s.Steps {
		if _, err := time.Parse(time.RFC3339, step.At); err != nil {
			return fmt.Errorf("steps[%d]: at: %w", i, err)
		}
		if (len(step.Observe) > 0) == (step.Events != nil) {
			return fmt.Errorf("steps[%d]: exactly one of observe or events is required", i)
		}
		if step.Events != nil {
			if !domain.EventKind(step.Events.Kind).Valid() {
				return fmt.Errorf("steps[%d]: unknown event kind %q", i, step.Events.Kind)
			}
			for j, item := range step.Events.Items {
				if _, err := time.Parse(time.RFC3339, item.At); err != nil {
					return fmt.Errorf("steps[%d].items[%d]: at: %w", i, j, err)
				}
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertEventCount:
		if a.Entity == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: entity and count are required for event_count", index)
		}
		if a.Kind != "" && !domain.EventKind(a.Kind).Valid() {
			return fmt.Errorf("assertions[%d]: unknown event kind %q", index, a.Kind)
		}
	case AssertSnapshot:
		if a.Entity == "" || a.Day == "" || a.Total == nil {
			return fmt.Errorf("assertions[%d]: entity, day and total are required for snapshot", index)
		}
	case AssertNoSnapshot:
		if a.Entity == "" || a.Day == "" {
			return fmt.Errorf("assertions[%d]: entity and day are required for no_snapshot", index)
		}
	case AssertUniqueTimestamps:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for unique_timestamps", index)
		}
	case AssertReferrerCount:
		if a.Value == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: value and count are required for referrer_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
