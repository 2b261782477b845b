package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/storewatch/storewatch/pkg/obstore"
	"github.com/storewatch/storewatch/pkg/timeutil"
)

const (
	StatusFile    = "store_status.csv"
	HoursFile     = "menu_hours.csv"
	TimezonesFile = "timezones.csv"

	defaultBatchSize = 5000
)

// Observation timestamps arrive in a few shapes across source dumps.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999 UTC",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

type Config struct {
	Logger *slog.Logger
	Writer obstore.Writer

	// DataDir holds the three source CSVs.
	DataDir string

	// BatchSize bounds rows per insert call.
	BatchSize int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Writer == nil {
		return errors.New("store writer is required")
	}
	if cfg.DataDir == "" {
		return errors.New("data directory is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return nil
}

// Loader ingests the source CSV dumps into an observation store. Loading is
// idempotent at the table level: a table that already has rows is skipped, so
// restarts do not duplicate data.
type Loader struct {
	log *slog.Logger
	cfg Config
}

func NewLoader(cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loader{log: cfg.Logger, cfg: cfg}, nil
}

// LoadAll ingests whichever of the three tables are still empty.
func (l *Loader) LoadAll(ctx context.Context) error {
	observations, hours, timezones, err := l.cfg.Writer.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to check existing row counts: %w", err)
	}

	if timezones > 0 {
		l.log.Info("timezones already loaded, skipping", "rows", timezones)
	} else if err := l.loadTimezones(ctx); err != nil {
		return err
	}

	if hours > 0 {
		l.log.Info("business hours already loaded, skipping", "rows", hours)
	} else if err := l.loadHours(ctx); err != nil {
		return err
	}

	if observations > 0 {
		l.log.Info("observations already loaded, skipping", "rows", observations)
	} else if err := l.loadObservations(ctx); err != nil {
		return err
	}

	return nil
}

func (l *Loader) loadObservations(ctx context.Context) error {
	started := time.Now()
	var total, skipped int

	batch := make([]obstore.Observation, 0, l.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.cfg.Writer.InsertObservations(ctx, batch); err != nil {
			return fmt.Errorf("failed to insert observations: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	err := l.forEachRecord(StatusFile, []string{"store_id", "status", "timestamp_utc"}, func(get func(string) string) error {
		ts, err := parseTimestamp(get("timestamp_utc"))
		if err != nil {
			skipped++
			return nil
		}
		status := obstore.Status(get("status"))
		if status != obstore.StatusActive && status != obstore.StatusInactive {
			skipped++
			return nil
		}
		batch = append(batch, obstore.Observation{
			StoreID:   get("store_id"),
			Timestamp: ts,
			Status:    status,
		})
		total++
		if len(batch) >= l.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	l.log.Info("loaded observations", "rows", total, "skipped", skipped, "duration", time.Since(started))
	return nil
}

func (l *Loader) loadHours(ctx context.Context) error {
	var rules []obstore.HoursRule
	var skipped int

	err := l.forEachRecord(HoursFile, []string{"store_id", "start_time_local", "end_time_local"}, func(get func(string) string) error {
		// Source dumps disagree on this column's name.
		rawDay := get("dayOfWeek")
		if rawDay == "" {
			rawDay = get("day_of_week")
		}
		day, err := strconv.Atoi(rawDay)
		if err != nil || day < 0 || day > 6 {
			skipped++
			return nil
		}
		start, err := timeutil.ParseTimeOfDay(get("start_time_local"))
		if err != nil {
			skipped++
			return nil
		}
		end, err := timeutil.ParseTimeOfDay(get("end_time_local"))
		if err != nil {
			skipped++
			return nil
		}
		rules = append(rules, obstore.HoursRule{
			StoreID:   get("store_id"),
			DayOfWeek: day,
			Start:     start,
			End:       end,
		})
		return nil
	})
	if err != nil {
		return err
	}

	for i := 0; i < len(rules); i += l.cfg.BatchSize {
		end := min(i+l.cfg.BatchSize, len(rules))
		if err := l.cfg.Writer.InsertHoursRules(ctx, rules[i:end]); err != nil {
			return fmt.Errorf("failed to insert business hours: %w", err)
		}
	}

	l.log.Info("loaded business hours", "rows", len(rules), "skipped", skipped)
	return nil
}

func (l *Loader) loadTimezones(ctx context.Context) error {
	zones := make(map[string]string)
	var skipped int

	err := l.forEachRecord(TimezonesFile, []string{"store_id", "timezone_str"}, func(get func(string) string) error {
		id := get("store_id")
		tz := get("timezone_str")
		if id == "" || tz == "" {
			skipped++
			return nil
		}
		zones[id] = tz
		return nil
	})
	if err != nil {
		return err
	}

	if err := l.cfg.Writer.InsertTimezones(ctx, zones); err != nil {
		return fmt.Errorf("failed to insert timezones: %w", err)
	}

	l.log.Info("loaded timezones", "rows", len(zones), "skipped", skipped)
	return nil
}

// forEachRecord streams one CSV file, resolving columns by header name so
// column order in the dump does not matter. required names must all be
// present; fn receives a getter that returns "" for unknown columns.
func (l *Loader) forEachRecord(name string, required []string, fn func(get func(string) string) error) error {
	path := filepath.Join(l.cfg.DataDir, name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("failed to read %s header: %w", name, err)
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[col] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return fmt.Errorf("%s is missing required column %q", name, col)
		}
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}
		if err := fn(get); err != nil {
			return err
		}
	}
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
