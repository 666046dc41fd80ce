// Package us provides US-market data sources backed by the Alpaca
// market-data API.
package us

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"momentum/internal/domain"
	"momentum/internal/gather"
)

// Compile-time interface check.
var _ gather.BarSource = (*MinuteBarSource)(nil)

// barsClient is the subset of *marketdata.Client used here.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// MinuteBarSource fetches one-minute bars for a single session. Bar times
// are expressed as HHMM in loc (normally America/New_York).
type MinuteBarSource struct {
	client barsClient
	feed   string
	loc    *time.Location
	log    *slog.Logger
}

// NewMinuteBarSource creates a MinuteBarSource with the given Alpaca
// credentials. An empty dataURL uses the SDK default endpoint.
func NewMinuteBarSource(apiKey, apiSecret, dataURL, feed string, loc *time.Location) *MinuteBarSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return newMinuteBarSource(marketdata.NewClient(opts), feed, loc)
}

func newMinuteBarSource(c barsClient, feed string, loc *time.Location) *MinuteBarSource {
	if loc == nil {
		loc = time.UTC
	}
	return &MinuteBarSource{
		client: c,
		feed:   feed,
		loc:    loc,
		log:    slog.Default().With("component", "us-minute-bars"),
	}
}

// FetchBars yields the session's minute bars, oldest first. The SDK pages
// internally, so the sequence is produced from a single call.
func (s *MinuteBarSource) FetchBars(ctx context.Context, code, sessionDate string) iter.Seq2[domain.Bar, error] {
	return func(yield func(domain.Bar, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(domain.Bar{}, err)
			return
		}
		day, err := time.ParseInLocation("20060102", sessionDate, s.loc)
		if err != nil {
			yield(domain.Bar{}, fmt.Errorf("session date %q: %w", sessionDate, err))
			return
		}

		start := time.Now()
		abars, err := s.client.GetBars(code, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneMin,
			Start:     day,
			End:       day.AddDate(0, 0, 1),
			Feed:      s.feed,
		})
		if err != nil {
			yield(domain.Bar{}, &domain.APIError{APIID: "GetBars", Msg: err.Error(), Kind: domain.ErrTransientNetwork})
			return
		}
		s.log.Debug("minute bars fetched", "symbol", code, "count", len(abars), "latency", time.Since(start).Round(time.Millisecond))

		for _, ab := range abars {
			ts := ab.Timestamp.In(s.loc)
			if ts.Format("20060102") != sessionDate {
				continue
			}
			b := domain.Bar{
				Date:  sessionDate,
				Time:  ts.Format("1504"),
				Code:  strings.ToUpper(code),
				Price: ab.Close,
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}
