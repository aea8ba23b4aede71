// Package pipeline runs one playlake ETL pass: read the catalog and event
// datasets, build the star schema, stage every table and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/playlake/internal/duck"
	"github.com/malbeclabs/playlake/internal/metrics"
	"github.com/malbeclabs/playlake/internal/records"
	"github.com/malbeclabs/playlake/internal/star"
	"github.com/malbeclabs/playlake/internal/storage"
)

const (
	DatasetCatalog = "catalog"
	DatasetEvents  = "events"
)

type Config struct {
	Logger *slog.Logger
	Source storage.Source
	Writer TableWriter
	Policy records.MalformedPolicy

	// Optional with defaults.
	Workers    int
	Partitions int
	RunID      string
	Clock      clockwork.Clock
	DryRun     bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Source == nil {
		return errors.New("source is required")
	}
	if c.Writer == nil {
		return errors.New("writer is required")
	}
	policy, err := records.ParseMalformedPolicy(string(c.Policy))
	if err != nil {
		return err
	}
	c.Policy = policy
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Workers < 0 {
		return errors.New("workers must be > 0")
	}
	if c.Partitions == 0 {
		c.Partitions = c.Workers
	}
	if c.Partitions < 0 {
		return errors.New("partitions must be > 0")
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// DatasetResult summarizes the decoding of one input dataset.
type DatasetResult struct {
	Name    string
	Files   int
	Records int
	Skipped int
}

type TableResult struct {
	Name string
	Rows int
}

// Result is the summary of a completed run.
type Result struct {
	RunID     string
	Datasets  []DatasetResult
	Tables    []TableResult
	Duration  time.Duration
	Published bool
}

// Rows returns the row count of the named table, or -1 if it is unknown.
func (r *Result) Rows(table string) int {
	for _, t := range r.Tables {
		if t.Name == table {
			return t.Rows
		}
	}
	return -1
}

type Pipeline struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{log: cfg.Logger, cfg: cfg}, nil
}

// Run executes the pipeline once. Nothing is published unless every table
// was staged; with DryRun nothing is published at all.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res, err := p.run(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	outcome := "success"
	if p.cfg.DryRun {
		outcome = "dry_run"
	}
	metrics.RunsTotal.WithLabelValues(outcome).Inc()
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	start := p.cfg.Clock.Now()
	res := &Result{RunID: p.cfg.RunID}
	p.log.Info("pipeline: starting run", "run_id", p.cfg.RunID, "workers", p.cfg.Workers, "partitions", p.cfg.Partitions, "dry_run", p.cfg.DryRun)

	reader, err := records.NewReader(records.ReaderConfig{
		Logger:  p.log,
		Source:  p.cfg.Source,
		Policy:  p.cfg.Policy,
		Workers: p.cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}

	var (
		catalog []records.CatalogRecord
		events  []records.EventRecord
	)
	err = p.stage("read", func() error {
		var stats records.Stats
		var err error
		catalog, stats, err = reader.ReadCatalog(ctx)
		if err != nil {
			return fmt.Errorf("failed to read catalog: %w", err)
		}
		res.Datasets = append(res.Datasets, datasetResult(DatasetCatalog, stats))

		events, stats, err = reader.ReadEvents(ctx)
		if err != nil {
			return fmt.Errorf("failed to read events: %w", err)
		}
		res.Datasets = append(res.Datasets, datasetResult(DatasetEvents, stats))
		return nil
	})
	if err != nil {
		return nil, err
	}

	var tables []duck.Table
	err = p.stage("build", func() error {
		tables, err = p.build(ctx, catalog, events)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage("stage", func() error {
		for _, t := range tables {
			if err := p.cfg.Writer.Stage(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		res.Tables = append(res.Tables, TableResult{Name: t.Name, Rows: t.Rows})
		metrics.TableRows.WithLabelValues(t.Name).Set(float64(t.Rows))
	}

	if p.cfg.DryRun {
		p.log.Info("pipeline: dry run, skipping publish")
	} else {
		if err := p.stage("publish", func() error { return p.cfg.Writer.Publish(ctx) }); err != nil {
			return nil, err
		}
		res.Published = true
	}

	res.Duration = p.cfg.Clock.Since(start)
	p.log.Info("pipeline: run completed", "run_id", res.RunID, "duration", res.Duration, "published", res.Published)
	return res, nil
}

// build derives the five output tables from the decoded records.
func (p *Pipeline) build(ctx context.Context, catalog []records.CatalogRecord, events []records.EventRecord) ([]duck.Table, error) {
	pool := pond.NewPool(p.cfg.Workers)
	defer pool.StopAndWait()

	dims, err := star.BuildCatalogDims(ctx, pool, catalog)
	if err != nil {
		return nil, err
	}
	evs := star.NormalizeEvents(events)
	users := star.ResolveUsers(evs)
	timeRows := star.BuildTimeDim(evs)
	facts, err := star.AssembleFacts(ctx, pool, evs, dims, p.cfg.Partitions)
	if err != nil {
		return nil, err
	}
	p.log.Debug("pipeline: built star schema",
		"songs", len(dims.Items),
		"artists", len(dims.Creators),
		"plays", len(evs),
		"users", len(users),
		"time", len(timeRows),
		"songplays", len(facts),
	)

	return []duck.Table{
		songsTable(dims.Items),
		artistsTable(dims.Creators),
		usersTable(users),
		timeTable(timeRows),
		songplaysTable(facts),
	}, nil
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := p.cfg.Clock.Now()
	err := fn()
	metrics.StageDuration.WithLabelValues(name).Observe(p.cfg.Clock.Since(start).Seconds())
	if err != nil {
		p.log.Error("pipeline: stage failed", "stage", name, "error", err)
	}
	return err
}

func datasetResult(name string, stats records.Stats) DatasetResult {
	metrics.RecordsRead.WithLabelValues(name).Add(float64(stats.Records))
	metrics.RecordsSkipped.WithLabelValues(name).Add(float64(stats.Skipped))
	return DatasetResult{
		Name:    name,
		Files:   stats.Files,
		Records: stats.Records,
		Skipped: stats.Skipped,
	}
}
