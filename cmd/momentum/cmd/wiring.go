package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"momentum/internal/broker"
	"momentum/internal/config"
	"momentum/internal/gather"
	"momentum/internal/gather/us"
	"momentum/internal/kiwoom"
	"momentum/internal/store"
	"momentum/internal/util"
)

// stack holds the collaborators shared by the subcommands.
type stack struct {
	cal    *util.TradingCalendar
	bars   *store.ParquetStore
	db     *store.SQLiteStore
	client *kiwoom.Client
	api    *kiwoom.API
}

func (s *stack) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// newStack opens the stores and, for the kiwoom and simulator venues, the
// Kiwoom client. The simulator still reads bars and quotes from Kiwoom.
func newStack(c *config.Config, kind string) (*stack, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	holidays := c.Schedule.Holidays
	if kind == "alpaca" {
		now := time.Now().In(loc)
		more, err := us.Holidays(c.Alpaca.APIKey, c.Alpaca.APISecret, c.Alpaca.BaseURL,
			now.AddDate(0, -1, 0), now.AddDate(0, 1, 0))
		if err != nil {
			slog.Warn("alpaca calendar unavailable, using configured holidays", "error", err)
		}
		holidays = append(holidays, more...)
	}

	db, err := store.NewSQLiteStore(c.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	s := &stack{
		cal:  util.NewTradingCalendar(loc, holidays),
		bars: store.NewParquetStore(c.Storage.DataDir),
		db:   db,
	}
	if kind == "kiwoom" || kind == "simulator" {
		s.client = kiwoom.NewClient(kiwoom.Options{
			BaseURL:         c.Kiwoom.BaseURL,
			AppKey:          c.Kiwoom.AppKey,
			SecretKey:       c.Kiwoom.SecretKey,
			MaxRetries:      c.Client.MaxRetries,
			BaseDelay:       c.Client.BaseDelay,
			MaxDelay:        c.Client.MaxDelay,
			MaxTotalWait:    c.Client.MaxTotalWait,
			Jitter:          c.Client.Jitter,
			RequestTimeout:  c.Client.RequestTimeout,
			TokenTimeout:    c.Client.TokenTimeout,
			RateLimitPerMin: c.Client.RateLimitPerMin,
			Location:        loc,
		})
		s.api = kiwoom.NewAPI(s.client, c.Kiwoom.Exchange)
	}
	return s, nil
}

// source returns the bar source of the venue.
func (s *stack) source(c *config.Config, kind string) (gather.BarSource, error) {
	switch kind {
	case "kiwoom", "simulator":
		opts := kiwoom.MinuteChart(c.Client.PageDelay, c.Kiwoom.MaxPages)
		if c.Kiwoom.PriceScale == 100 {
			opts = kiwoom.SectorMinuteChart(c.Client.PageDelay, c.Kiwoom.MaxPages)
		}
		return kiwoom.NewBarFetcher(s.client, opts), nil
	case "alpaca":
		return us.NewMinuteBarSource(c.Alpaca.APIKey, c.Alpaca.APISecret, c.Alpaca.DataURL, c.Alpaca.Feed, s.cal.Location()), nil
	}
	return nil, fmt.Errorf("unknown broker %q", kind)
}

// broker returns the execution venue.
func (s *stack) broker(c *config.Config, kind string) (broker.Broker, error) {
	switch kind {
	case "kiwoom":
		return broker.NewKiwoomBroker(s.api), nil
	case "alpaca":
		return broker.NewAlpacaBroker(c.Alpaca.APIKey, c.Alpaca.APISecret, c.Alpaca.BaseURL, c.Alpaca.DataURL, c.Alpaca.Feed), nil
	case "simulator":
		return broker.NewSimulatorBroker(decimal.NewFromFloat(c.Broker.SimulatorCash)), nil
	}
	return nil, fmt.Errorf("unknown broker %q", kind)
}
