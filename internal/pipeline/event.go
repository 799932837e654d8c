package pipeline

import (
	"fmt"
	"time"

	"mvr-etl/internal/transform"
)

// Stage names one independently callable pipeline step.
type Stage string

const (
	StageCreateTable   Stage = "create_table"
	StageTransformData Stage = "transform_data"
	StageLoadData      Stage = "load_data"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageCreateTable, StageTransformData, StageLoadData}

// ParseStage resolves a stage by name.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", name)
}

// Outcome is the result class of a stage attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeRetry   Outcome = "retry"
)

// Event is the structured result of one stage attempt.
type Event struct {
	RunID    string
	Stage    Stage
	Outcome  Outcome
	Attempt  int // set for retries
	Message  string
	Rows     int64
	Checksum string
	Stats    *transform.Stats // set by transform_data
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Text renders the notification line for the event.
func (e Event) Text() string {
	switch e.Outcome {
	case OutcomeSuccess:
		msg := fmt.Sprintf("Stage %s succeeded in %s", e.Stage, e.Duration.Round(time.Millisecond))
		if e.Message != "" {
			msg += ": " + e.Message
		}
		return msg
	case OutcomeRetry:
		return fmt.Sprintf("Stage %s is retrying (attempt %d): %v", e.Stage, e.Attempt, e.Err)
	default:
		return fmt.Sprintf("Stage %s failed: %v", e.Stage, e.Err)
	}
}
