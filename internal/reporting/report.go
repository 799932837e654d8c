package reporting

import (
	"time"

	"mvr-etl/internal/pipeline"
	"mvr-etl/internal/transform"
)

// Report summarizes one pipeline run.
type Report struct {
	RunID       string
	Table       string
	GeneratedAt time.Time
	Succeeded   bool

	Stages    []StageRow
	Transform *transform.Stats // nil if transform_data did not succeed
	Checksum  string           // intermediate dataset checksum
	RowsLoad  int64
}

// StageRow is one stage attempt in run order.
type StageRow struct {
	Stage    string
	Outcome  string
	Attempt  int
	Rows     int64
	Duration time.Duration
	Message  string
	Error    string
}

// Build assembles a report from the events of one run.
// The run succeeded if every event is a success and load_data is among them.
func Build(table string, events []pipeline.Event, now time.Time) *Report {
	r := &Report{Table: table, GeneratedAt: now.UTC()}

	loaded := false
	failed := false
	for _, ev := range events {
		if r.RunID == "" {
			r.RunID = ev.RunID
		}
		row := StageRow{
			Stage:    string(ev.Stage),
			Outcome:  string(ev.Outcome),
			Attempt:  ev.Attempt,
			Rows:     ev.Rows,
			Duration: ev.Duration,
			Message:  ev.Message,
		}
		if ev.Err != nil {
			row.Error = ev.Err.Error()
		}
		r.Stages = append(r.Stages, row)

		switch ev.Outcome {
		case pipeline.OutcomeFailure:
			failed = true
		case pipeline.OutcomeSuccess:
			if ev.Checksum != "" {
				r.Checksum = ev.Checksum
			}
			if ev.Stats != nil {
				r.Transform = ev.Stats
			}
			if ev.Stage == pipeline.StageLoadData {
				loaded = true
				r.RowsLoad = ev.Rows
			}
		}
	}

	r.Succeeded = loaded && !failed
	return r
}
