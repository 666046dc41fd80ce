package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// calendarClient is the subset of *alpaca.Client used here.
type calendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// Holidays returns the weekdays in [start, end] on which the US market is
// closed, as YYYYMMDD strings suitable for util.NewTradingCalendar.
func Holidays(apiKey, apiSecret, baseURL string, start, end time.Time) ([]string, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return holidays(client, start, end)
}

func holidays(client calendarClient, start, end time.Time) ([]string, error) {
	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no trading days returned from calendar")
	}

	open := make(map[string]struct{}, len(days))
	for _, d := range days {
		t, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			continue
		}
		open[t.Format("20060102")] = struct{}{}
	}

	var closed []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		key := d.Format("20060102")
		if _, ok := open[key]; !ok {
			closed = append(closed, key)
		}
	}
	return closed, nil
}
