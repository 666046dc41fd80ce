// Package gather turns the bars of a BarSource into persisted intraday
// records.
package gather

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"momentum/internal/domain"
	"momentum/internal/store"
)

// BarSource yields the intraday bars of one instrument for one session.
// Implementations are finite: the sequence ends when the upstream has no
// more data for the session.
type BarSource interface {
	FetchBars(ctx context.Context, code, sessionDate string) iter.Seq2[domain.Bar, error]
}

// Collect drains a BarSource into a slice.
func Collect(ctx context.Context, src BarSource, code, sessionDate string) ([]domain.Bar, error) {
	var bars []domain.Bar
	for b, err := range src.FetchBars(ctx, code, sessionDate) {
		if err != nil {
			return bars, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// Recorder persists every fetched bar of a session relative to the session's
// opening bar. Bars fetched before the opening bar was seen are stored with a
// NaN return and rewritten once it is known.
type Recorder struct {
	store    store.BarStore
	openTime string
	open     *domain.Bar
	pending  map[string]domain.Bar
	log      *slog.Logger
}

// NewRecorder creates a Recorder writing to s. openTime is the HHMM clock of
// the opening reference bar.
func NewRecorder(s store.BarStore, openTime string) *Recorder {
	return &Recorder{
		store:    s,
		openTime: openTime,
		pending:  make(map[string]domain.Bar),
		log:      slog.Default().With("component", "recorder"),
	}
}

// Record appends bars to the store and returns the number of records
// written. A persistence failure wraps domain.ErrPersistence; callers treat
// it as a warning.
func (r *Recorder) Record(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	// Find the opening bar first so that every record of the batch gets a
	// real return regardless of upstream ordering.
	justOpened := false
	if r.open == nil {
		for i := range bars {
			if bars[i].Time == r.openTime {
				b := bars[i]
				r.open = &b
				justOpened = true
				break
			}
		}
	}

	batch := bars
	if justOpened && len(r.pending) > 0 {
		batch = make([]domain.Bar, 0, len(bars)+len(r.pending))
		for _, b := range r.pending {
			batch = append(batch, b)
		}
		batch = append(batch, bars...)
		clear(r.pending)
	}

	records := make([]domain.PersistedRecord, 0, len(batch))
	for _, b := range batch {
		if r.open == nil {
			r.pending[b.Date+b.Time+b.Code] = b
		}
		records = append(records, domain.NewRecord(b, r.open, r.openTime))
	}

	if err := r.store.Append(ctx, records); err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		return 0, err
	}
	r.log.Debug("bars recorded", "count", len(records), "open_seen", r.open != nil)
	return len(records), nil
}
