// Package pipeline runs the three batch stages: create_table provisions the
// table in every target store, transform_data cleans and enriches the input
// into the intermediate dataset, and load_data replaces the table contents
// from that dataset.
//
// Stages never retry. Each returns an Event describing the attempt, which is
// also handed to the configured Notifier. A scheduler that retries a failed
// stage reports it through ReportRetry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mvr-etl/internal/dataset"
	"mvr-etl/internal/observability"
	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
	"mvr-etl/internal/transform"
)

// Target is one store the table is provisioned in and loaded into.
type Target struct {
	Name        string
	Provisioner storage.Provisioner
	Loader      storage.Loader
}

// Connector opens the target stores. The first is the primary store.
// release closes whatever the connector opened.
type Connector func(ctx context.Context) (targets []Target, release func(), err error)

// Options for creating a Pipeline.
type Options struct {
	Table            schema.Table
	InputPath        string
	IntermediatePath string

	// Engine defaults to transform.NewEngine(transform.DefaultOptions(), Logger).
	Engine *transform.Engine

	// Targets are the stores to provision and load. The first is the primary store.
	Targets []Target

	// Connect, when Targets is empty, opens the stores on first use by
	// create_table or load_data. transform_data never connects.
	Connect Connector

	Notifier Notifier
	Logger   *zap.Logger

	// RunID defaults to a fresh UUID.
	RunID string
}

// Pipeline exposes the stages.
type Pipeline struct {
	table        schema.Table
	input        string
	intermediate string
	engine       *transform.Engine
	notifier     Notifier
	logger       *zap.Logger
	runID        string

	mu      sync.Mutex
	targets []Target
	connect Connector
	release func()
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if err := opts.Table.Validate(); err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	if opts.InputPath == "" || opts.IntermediatePath == "" {
		return nil, errors.New("input and intermediate paths are required")
	}
	if len(opts.Targets) == 0 && opts.Connect == nil {
		return nil, errors.New("at least one target store or a connector is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := opts.Engine
	if engine == nil {
		engine = transform.NewEngine(transform.DefaultOptions(), logger)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = Notifiers{}
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Pipeline{
		table:        opts.Table,
		input:        opts.InputPath,
		intermediate: opts.IntermediatePath,
		engine:       engine,
		targets:      opts.Targets,
		connect:      opts.Connect,
		notifier:     notifier,
		logger:       logger.With(zap.String("component", "pipeline"), zap.String("run_id", runID)),
		runID:        runID,
	}, nil
}

// RunID returns the identifier stamped on every event.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Close releases stores opened by the Connector.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

// stores returns the target stores, connecting on first use.
// A failed connect is not cached.
func (p *Pipeline) stores(ctx context.Context) ([]Target, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.targets) > 0 {
		return p.targets, nil
	}

	targets, release, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		if release != nil {
			release()
		}
		return nil, errors.New("connector returned no target stores")
	}
	p.targets = targets
	p.release = release
	return targets, nil
}

// Provision ensures the table exists in every target.
func (p *Pipeline) Provision(ctx context.Context) (Event, error) {
	return p.run(ctx, StageCreateTable, func(ev *Event) error {
		targets, err := p.stores(ctx)
		if err != nil {
			return storage.NewProvisioningError(storage.ProvisioningUnreachable, p.table.Name, err)
		}
		for _, t := range targets {
			if err := t.Provisioner.EnsureTable(ctx, p.table); err != nil {
				return fmt.Errorf("%s: %w", t.Name, err)
			}
		}
		ev.Message = fmt.Sprintf("table %s ready in %d store(s)", p.table.Name, len(targets))
		return nil
	})
}

// Transform cleans and enriches the input and writes the intermediate dataset.
func (p *Pipeline) Transform(ctx context.Context) (Event, error) {
	return p.run(ctx, StageTransformData, func(ev *Event) error {
		records, stats, err := p.engine.Run(ctx, p.input)
		if err != nil {
			return err
		}
		observability.RecordTransform(stats.RowsRead, stats.RowsEmitted, map[string]int{
			"duplicate":  stats.DroppedDuplicate,
			"incomplete": stats.DroppedIncomplete,
			"bad_date":   stats.DroppedBadDate,
			"volume":     stats.DroppedVolume,
		})

		if err := dataset.Write(p.intermediate, records); err != nil {
			return fmt.Errorf("write intermediate dataset: %w", err)
		}
		sum, err := dataset.Checksum(p.intermediate)
		if err != nil {
			return err
		}

		ev.Rows = int64(len(records))
		ev.Checksum = sum
		ev.Stats = &stats
		ev.Message = fmt.Sprintf("read %d, dropped %d, emitted %d rows to %s",
			stats.RowsRead, stats.Dropped(), stats.RowsEmitted, p.intermediate)
		return nil
	})
}

// Load replaces the table contents in every target with the intermediate dataset.
//
// Mirrors are loaded before the primary, so a failing mirror leaves the
// primary on its previous rows. Each replace is atomic only within its own
// store: if the primary fails after a mirror succeeded, that mirror already
// holds the new rows until the stage is retried.
func (p *Pipeline) Load(ctx context.Context) (Event, error) {
	return p.run(ctx, StageLoadData, func(ev *Event) error {
		records, err := dataset.Read(p.intermediate)
		if err != nil {
			return fmt.Errorf("read intermediate dataset: %w", err)
		}
		sum, err := dataset.Checksum(p.intermediate)
		if err != nil {
			return err
		}

		targets, err := p.stores(ctx)
		if err != nil {
			return storage.NewLoadError(storage.LoadConnectionFailure, p.table.Name, err)
		}

		var loaded int64
		for i := len(targets) - 1; i >= 0; i-- {
			t := targets[i]
			n, err := t.Loader.ReplaceAll(ctx, p.table, records)
			if err != nil {
				return fmt.Errorf("%s: %w", t.Name, err)
			}
			if i == 0 {
				loaded = n
			}
			p.logger.Debug("target loaded", zap.String("target", t.Name), zap.Int64("rows", n))
		}
		observability.RecordSuccessfulRun(time.Now().Unix())

		ev.Rows = loaded
		ev.Checksum = sum
		ev.Message = fmt.Sprintf("replaced %s with %d rows", p.table.Name, loaded)
		return nil
	})
}

// Run executes one stage by name.
func (p *Pipeline) Run(ctx context.Context, stage Stage) (Event, error) {
	switch stage {
	case StageCreateTable:
		return p.Provision(ctx)
	case StageTransformData:
		return p.Transform(ctx)
	case StageLoadData:
		return p.Load(ctx)
	default:
		return Event{}, fmt.Errorf("unknown stage %q", stage)
	}
}

// RunAll executes every stage in order and stops at the first failure.
func (p *Pipeline) RunAll(ctx context.Context) ([]Event, error) {
	events := make([]Event, 0, len(Stages))
	for _, stage := range Stages {
		ev, err := p.Run(ctx, stage)
		events = append(events, ev)
		if err != nil {
			return events, err
		}
	}
	return events, nil
}

// ReportRetry notifies that a scheduler is retrying stage after err.
func (p *Pipeline) ReportRetry(ctx context.Context, stage Stage, attempt int, err error) Event {
	ev := Event{
		RunID:   p.runID,
		Stage:   stage,
		Outcome: OutcomeRetry,
		Attempt: attempt,
		Started: time.Now(),
		Err:     err,
	}
	p.notify(ctx, ev)
	return ev
}

func (p *Pipeline) run(ctx context.Context, stage Stage, fn func(ev *Event) error) (Event, error) {
	ev := Event{RunID: p.runID, Stage: stage, Started: time.Now()}

	err := fn(&ev)
	ev.Duration = time.Since(ev.Started)
	if err != nil {
		ev.Outcome = OutcomeFailure
		ev.Err = err
		err = &StageError{Stage: stage, Err: err}
	} else {
		ev.Outcome = OutcomeSuccess
	}

	p.notify(ctx, ev)
	return ev, err
}

// notify never fails the stage; notifier errors are logged.
func (p *Pipeline) notify(ctx context.Context, ev Event) {
	if err := p.notifier.Notify(ctx, ev); err != nil {
		p.logger.Warn("notify failed", zap.String("stage", string(ev.Stage)), zap.Error(err))
	}
}

// StageError tags an error with the stage that raised it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
