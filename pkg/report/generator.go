package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/storewatch/storewatch/pkg/metrics"
	"github.com/storewatch/storewatch/pkg/obstore"
	"github.com/storewatch/storewatch/pkg/schedule"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Store  obstore.Store

	// Workers bounds how many stores are computed concurrently. Per-store
	// computation shares no mutable state, so this scales with read
	// throughput of the store.
	Workers int

	// Metrics is optional instrumentation.
	Metrics *metrics.Metrics
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("observation store is required")
	}
	if cfg.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Stats summarizes one report run.
type Stats struct {
	Stores   int
	Faulted  int
	Anchor   time.Time
	Duration time.Duration
}

// Generator computes uptime/downtime rows for every store and streams them to
// a sink. One Generate call is one report run over an immutable snapshot of
// the data; the run is anchored at the store's max observation timestamp, not
// wall-clock now.
type Generator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{log: cfg.Logger, cfg: cfg}, nil
}

// Generate runs the whole report, writing one row per store to the sink. A
// fault computing a single store is recovered and that store skipped; only
// sink failures and store-query failures abort the run.
func (g *Generator) Generate(ctx context.Context, sink RowSink) (Stats, error) {
	started := g.cfg.Clock.Now()

	anchor, err := g.cfg.Store.MaxTimestamp(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to resolve current-time anchor: %w", err)
	}
	if anchor == nil {
		return Stats{}, errors.New("no observations loaded; nothing to report on")
	}

	ids, err := g.cfg.Store.AllStoreIDs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list stores: %w", err)
	}
	g.log.Info("starting report run", "stores", len(ids), "anchor", anchor)

	var faulted atomic.Int64
	var processed atomic.Int64
	progressEvery := max(1, len(ids)/10)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.cfg.Workers)
	for _, storeID := range ids {
		// Cancellation is checked between stores; a run already in flight for
		// a store finishes its row.
		if err := gctx.Err(); err != nil {
			break
		}
		group.Go(func() error {
			row, err := g.safeComputeStore(gctx, storeID, *anchor)
			if err != nil {
				faulted.Add(1)
				if g.cfg.Metrics != nil {
					g.cfg.Metrics.StoreFaults.Inc()
				}
				g.log.Error("skipping store after computation fault", "store_id", storeID, "error", err)
				return nil
			}
			if err := sink.WriteRow(row); err != nil {
				return fmt.Errorf("failed to write row for store %s: %w", storeID, err)
			}
			if g.cfg.Metrics != nil {
				g.cfg.Metrics.StoresProcessed.Inc()
			}
			if n := processed.Add(1); n%int64(progressEvery) == 0 {
				g.log.Info("report progress", "processed", n, "total", len(ids))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Stats{}, err
	}
	if err := sink.Flush(); err != nil {
		return Stats{}, fmt.Errorf("failed to flush report sink: %w", err)
	}

	stats := Stats{
		Stores:   int(processed.Load()),
		Faulted:  int(faulted.Load()),
		Anchor:   *anchor,
		Duration: g.cfg.Clock.Since(started),
	}
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.ReportDuration.Observe(stats.Duration.Seconds())
	}
	g.log.Info("report run finished", "stores", stats.Stores, "faulted", stats.Faulted, "duration", stats.Duration)
	return stats, nil
}

// safeComputeStore isolates one store's computation so a fault in its data
// cannot void the whole batch.
func (g *Generator) safeComputeStore(ctx context.Context, storeID string, anchor time.Time) (row Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store computation panicked: %v", r)
		}
	}()
	return g.computeStore(ctx, storeID, anchor)
}

func (g *Generator) computeStore(ctx context.Context, storeID string, anchor time.Time) (Row, error) {
	tz, err := g.cfg.Store.Timezone(ctx, storeID)
	if err != nil {
		return Row{}, fmt.Errorf("failed to fetch timezone: %w", err)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Bad zone identifiers are a data-quality problem, not a fatal one.
		g.log.Warn("unknown timezone, falling back to UTC", "store_id", storeID, "timezone", tz)
		loc = time.UTC
	}

	rawRules, err := g.cfg.Store.BusinessHours(ctx, storeID)
	if err != nil {
		return Row{}, fmt.Errorf("failed to fetch business hours: %w", err)
	}
	rules := schedule.Normalize(storeID, rawRules)

	row := Row{StoreID: storeID}
	for _, w := range windowsAt(anchor) {
		uptime, downtime, err := g.computeWindow(ctx, storeID, w, rules, loc)
		if err != nil {
			return Row{}, err
		}
		switch w.Kind {
		case WindowHour:
			row.UptimeHour, row.DowntimeHour = uptime, downtime
		case WindowDay:
			row.UptimeDay, row.DowntimeDay = uptime, downtime
		case WindowWeek:
			row.UptimeWeek, row.DowntimeWeek = uptime, downtime
		}
	}
	return row, nil
}

// computeWindow produces the final reconciled pair for one window: uptime is
// clipped into [0, total] and downtime is derived as total-uptime rather than
// trusting the interpolator's accumulation, so the pair always sums exactly
// to the window's business time.
func (g *Generator) computeWindow(ctx context.Context, storeID string, w Window, rules []obstore.HoursRule, loc *time.Location) (float64, float64, error) {
	total := totalBusinessTime(w, rules, loc)
	if total <= 0 {
		return 0, 0, nil
	}

	obs, err := g.cfg.Store.StatusInRange(ctx, storeID, w.Start, w.End)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query observations: %w", err)
	}

	var uptime float64
	if len(obs) == 0 {
		uptime, _, err = noDataFallback(ctx, g.cfg.Store, storeID, w, total)
		if err != nil {
			return 0, 0, err
		}
	} else {
		uptime, _ = interpolate(obs, w, rules, loc, total)
	}

	uptime = max(0, min(uptime, total))
	downtime := total - uptime
	return round2(uptime), round2(downtime), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
