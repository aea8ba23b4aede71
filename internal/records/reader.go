package records

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/malbeclabs/playlake/internal/storage"
)

const (
	// CatalogDir holds catalog files at <input>/song_data/*/*/*/*.json.
	CatalogDir   = "song_data"
	CatalogDepth = 4

	// EventDir holds event files at <input>/log_data/*/*/*.json.
	EventDir   = "log_data"
	EventDepth = 3

	maxLineBytes = 16 << 20
)

// MalformedPolicy decides what a malformed record does to the run.
type MalformedPolicy string

const (
	MalformedSkip MalformedPolicy = "skip"
	MalformedFail MalformedPolicy = "fail"
)

func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch p := MalformedPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case MalformedSkip, MalformedFail:
		return p, nil
	case "":
		return MalformedSkip, nil
	default:
		return "", fmt.Errorf("invalid malformed record policy %q (want skip or fail)", s)
	}
}

type ReaderConfig struct {
	Logger *slog.Logger
	Source storage.Source
	Policy MalformedPolicy

	// Optional with defaults.
	Workers int
}

func (c *ReaderConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Source == nil {
		return errors.New("source is required")
	}
	policy, err := ParseMalformedPolicy(string(c.Policy))
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
	return nil
}

// Reader decodes the catalog and event datasets. Files are decoded in
// parallel; records keep the order of the sorted file list.
type Reader struct {
	log *slog.Logger
	cfg ReaderConfig
}

func NewReader(cfg ReaderConfig) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reader{log: cfg.Logger, cfg: cfg}, nil
}

func (r *Reader) ReadCatalog(ctx context.Context) ([]CatalogRecord, Stats, error) {
	recs, stats, err := readDataset(ctx, r, CatalogDir, CatalogDepth, DecodeCatalog)
	if err != nil {
		return nil, stats, err
	}
	if err := stats.CheckSchema("catalog", CatalogColumns); err != nil {
		return nil, stats, err
	}
	return recs, stats, nil
}

func (r *Reader) ReadEvents(ctx context.Context) ([]EventRecord, Stats, error) {
	recs, stats, err := readDataset(ctx, r, EventDir, EventDepth, DecodeEvent)
	if err != nil {
		return nil, stats, err
	}
	if err := stats.CheckSchema("events", EventColumns); err != nil {
		return nil, stats, err
	}
	return recs, stats, nil
}

// IsInputFile reports whether key names a JSON lines file, optionally gzipped.
func IsInputFile(key string) bool {
	return strings.HasSuffix(key, ".json") || strings.HasSuffix(key, ".json.gz")
}

type fileResult[T any] struct {
	records []T
	stats   Stats
}

func readDataset[T any](ctx context.Context, r *Reader, dir string, depth int, decode func([]byte, *Stats) (T, error)) ([]T, Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, Stats{}, err
	}
	listed, err := r.cfg.Source.List(ctx, dir, depth)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	keys := listed[:0:0]
	for _, key := range listed {
		if IsInputFile(key) {
			keys = append(keys, key)
		}
	}
	r.log.Debug("records: listed input files", "dir", dir, "files", len(keys))

	pool := pond.NewResultPool[fileResult[T]](r.cfg.Workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, key := range keys {
		group.SubmitErr(func() (fileResult[T], error) {
			return readFile(ctx, r, key, decode)
		})
	}
	results, err := group.Wait()
	if err != nil {
		return nil, Stats{}, err
	}

	var stats Stats
	total := 0
	for _, res := range results {
		total += len(res.records)
	}
	out := make([]T, 0, total)
	for _, res := range results {
		out = append(out, res.records...)
		stats.merge(res.stats)
	}

	if stats.Skipped > 0 {
		r.log.Warn("records: skipped malformed records", "dir", dir, "skipped", stats.Skipped, "records", stats.Records)
	}
	r.log.Info("records: read dataset", "dir", dir, "files", stats.Files, "records", stats.Records)
	return out, stats, nil
}

func readFile[T any](ctx context.Context, r *Reader, key string, decode func([]byte, *Stats) (T, error)) (fileResult[T], error) {
	res := fileResult[T]{stats: Stats{Files: 1}}

	rc, err := r.cfg.Source.Open(ctx, key)
	if err != nil {
		return res, fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer rc.Close()

	var in io.Reader = rc
	if strings.HasSuffix(key, ".gz") {
		zr, err := gzip.NewReader(rc)
		if err != nil {
			return res, fmt.Errorf("failed to open gzip stream %s: %w", key, err)
		}
		defer zr.Close()
		in = zr
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		rec, err := decode(data, &res.stats)
		if err != nil {
			recErr := &RecordError{Key: key, Line: line, Err: err}
			if r.cfg.Policy == MalformedFail {
				return res, recErr
			}
			r.log.Debug("records: skipping malformed record", "error", recErr)
			res.stats.Skipped++
			continue
		}
		res.records = append(res.records, rec)
		res.stats.Records++
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return res, nil
}
