package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/playlake/internal/config"
	"github.com/malbeclabs/playlake/internal/logger"
	"github.com/malbeclabs/playlake/internal/metrics"
	"github.com/malbeclabs/playlake/internal/pipeline"
	"github.com/malbeclabs/playlake/internal/storage"
)

type RunCmd struct {
	info   BuildInfo
	getenv func(string) string
}

func NewRunCmd(info BuildInfo, getenv func(string) string) *RunCmd {
	return &RunCmd{info: info, getenv: getenv}
}

func (c *RunCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ETL once and publish the star schema tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := verboseFlag(cmd)
			if err != nil {
				return err
			}
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("failed to get config flag: %w", err)
			}
			overrides, err := c.overrides(cmd)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath, c.getenv)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.ApplyOverrides(overrides)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log := logger.New(cmd.ErrOrStderr(), verbose)
			res, err := c.run(cmd.Context(), log, cfg)
			if err != nil {
				log.Error("run failed", "error", err)
				return err
			}
			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().String("config", "", "path to a TOML config file")
	cmd.Flags().String("input", "", "input root (local path, file:// or s3:// URI)")
	cmd.Flags().String("output", "", "output root (local path, file:// or s3:// URI)")
	cmd.Flags().Int("workers", 0, "worker pool size (default: number of CPUs)")
	cmd.Flags().Int("partitions", 0, "partitions used by the fact join and ranking (default: workers)")
	cmd.Flags().String("malformed", "", "malformed record policy: skip or fail (default: skip)")
	cmd.Flags().String("staging-dir", "", "local directory for staged tables (default: system temp dir)")
	cmd.Flags().String("metrics-addr", "", "address to expose prometheus metrics on, e.g. 127.0.0.1:9090")
	cmd.Flags().Bool("dry-run", false, "build and stage every table without publishing")

	return cmd
}

// overrides collects the flags that were set explicitly.
func (c *RunCmd) overrides(cmd *cobra.Command) (config.Overrides, error) {
	var o config.Overrides
	flags := cmd.Flags()
	for name, dst := range map[string]**string{
		"input":        &o.Input,
		"output":       &o.Output,
		"malformed":    &o.Malformed,
		"staging-dir":  &o.StagingDir,
		"metrics-addr": &o.MetricsAddr,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return o, fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		*dst = &v
	}
	for name, dst := range map[string]**int{
		"workers":    &o.Workers,
		"partitions": &o.Partitions,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return o, fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		*dst = &v
	}
	if flags.Changed("dry-run") {
		v, err := flags.GetBool("dry-run")
		if err != nil {
			return o, fmt.Errorf("failed to get dry-run flag: %w", err)
		}
		o.DryRun = &v
	}
	return o, nil
}

func (c *RunCmd) run(ctx context.Context, log *slog.Logger, cfg *config.Config) (res *pipeline.Result, err error) {
	metrics.BuildInfo.WithLabelValues(c.info.Version, c.info.Commit, c.info.Date).Set(1)

	in, out, err := cfg.URIs()
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log.Info("starting playlake",
		"version", c.info.Version,
		"run_id", runID,
		"input", storage.RedactedURI(in.String()),
		"output", storage.RedactedURI(out.String()),
		"malformed", cfg.Malformed,
		"workers", cfg.Workers,
	)
	if in.IsS3() || out.IsS3() {
		log.Debug("s3 configuration", "s3", cfg.S3.Redacted())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, log, cfg.MetricsAddr); err != nil {
				log.Error("failed to serve metrics", "error", err)
			}
		}()
	}

	src, err := storage.NewSource(ctx, in, &cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}
	pub, err := storage.NewPublisher(ctx, log, out, &cfg.S3, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	writer, err := pipeline.NewParquetWriter(ctx, pipeline.ParquetWriterConfig{
		Logger:      log,
		Publisher:   pub,
		StagingDir:  cfg.StagingDir,
		RunID:       runID,
		DuckThreads: cfg.DuckThreads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create table writer: %w", err)
	}
	defer func() {
		if closeErr := writer.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to clean up staging: %w", closeErr))
		}
	}()

	p, err := pipeline.New(pipeline.Config{
		Logger:     log,
		Source:     src,
		Writer:     writer,
		Policy:     cfg.Policy(),
		Workers:    cfg.Workers,
		Partitions: cfg.Partitions,
		RunID:      runID,
		DryRun:     cfg.DryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p.Run(ctx)
}
