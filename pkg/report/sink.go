package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// Columns is the exact report header, in order. Consumers key on these names.
var Columns = []string{
	"store_id",
	"uptime_last_hour(in minutes)",
	"uptime_last_day(in hours)",
	"uptime_last_week(in hours)",
	"downtime_last_hour(in minutes)",
	"downtime_last_day(in hours)",
	"downtime_last_week(in hours)",
}

// Row is one report line for one store. Hour-window values are minutes,
// day/week values are hours, all rounded to 2 decimal places.
type Row struct {
	StoreID      string
	UptimeHour   float64
	UptimeDay    float64
	UptimeWeek   float64
	DowntimeHour float64
	DowntimeDay  float64
	DowntimeWeek float64
}

func (r Row) record() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	return []string{
		r.StoreID,
		f(r.UptimeHour), f(r.UptimeDay), f(r.UptimeWeek),
		f(r.DowntimeHour), f(r.DowntimeDay), f(r.DowntimeWeek),
	}
}

// RowSink receives report rows. WriteRow must be safe for concurrent use;
// report workers write as stores finish, in no particular order.
type RowSink interface {
	WriteRow(Row) error
	Flush() error
}

// CSVSink streams rows to an io.Writer as CSV, flushing every flushEvery rows
// so a long run over a large fleet does not buffer the whole artifact.
type CSVSink struct {
	mu         sync.Mutex
	w          *csv.Writer
	flushEvery int
	pending    int
}

func NewCSVSink(w io.Writer, flushEvery int) (*CSVSink, error) {
	if flushEvery <= 0 {
		flushEvery = 1000
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return nil, fmt.Errorf("failed to write report header: %w", err)
	}
	return &CSVSink{w: cw, flushEvery: flushEvery}, nil
}

func (s *CSVSink) WriteRow(r Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(r.record()); err != nil {
		return fmt.Errorf("failed to write report row: %w", err)
	}
	s.pending++
	if s.pending >= s.flushEvery {
		s.w.Flush()
		s.pending = 0
		if err := s.w.Error(); err != nil {
			return fmt.Errorf("failed to flush report rows: %w", err)
		}
	}
	return nil
}

func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	s.pending = 0
	return s.w.Error()
}
