package kiwoom

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"momentum/internal/domain"
	"momentum/internal/util"
)

// Chart endpoints.
const (
	chartPath         = "/api/dostk/chart"
	APIMinuteChart    = "ka10080" // stock/ETF minute chart
	APISectorMinChart = "ka20005" // sector minute chart, prices x100
)

// ChartOptions selects the chart endpoint and how to read it.
type ChartOptions struct {
	APIID      string
	CodeField  string // stk_cd for instruments, inds_cd for sectors
	PriceScale int    // divisor applied to raw prices
	PageDelay  time.Duration
	MaxPages   int
}

// MinuteChart returns options for the instrument minute chart.
func MinuteChart(pageDelay time.Duration, maxPages int) ChartOptions {
	return ChartOptions{APIID: APIMinuteChart, CodeField: "stk_cd", PriceScale: 1, PageDelay: pageDelay, MaxPages: maxPages}
}

// SectorMinuteChart returns options for the sector minute chart.
func SectorMinuteChart(pageDelay time.Duration, maxPages int) ChartOptions {
	return ChartOptions{APIID: APISectorMinChart, CodeField: "inds_cd", PriceScale: 100, PageDelay: pageDelay, MaxPages: maxPages}
}

// BarFetcher retrieves a session's minute bars, following continuation
// pages.
type BarFetcher struct {
	client Sender
	opts   ChartOptions
	scale  decimal.Decimal
	log    *slog.Logger
}

// NewBarFetcher creates a BarFetcher over client.
func NewBarFetcher(client Sender, opts ChartOptions) *BarFetcher {
	if opts.APIID == "" {
		opts.APIID = APIMinuteChart
	}
	if opts.CodeField == "" {
		opts.CodeField = "stk_cd"
	}
	if opts.PriceScale <= 0 {
		opts.PriceScale = 1
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	return &BarFetcher{
		client: client,
		opts:   opts,
		scale:  decimal.NewFromInt(int64(opts.PriceScale)),
		log:    slog.Default().With("component", "bar-fetcher", "api_id", opts.APIID),
	}
}

// FetchBars yields every bar of sessionDate for code. The sequence is lazy
// and finite: one request per page, N+1 requests for N continuation pages.
// Bars arrive in server order (usually newest first); consumers index them
// by time. A transport or shape failure is yielded once as the final error.
func (f *BarFetcher) FetchBars(ctx context.Context, code, sessionDate string) iter.Seq2[domain.Bar, error] {
	return func(yield func(domain.Bar, error) bool) {
		body := map[string]string{
			f.opts.CodeField: code,
			"tic_scope":      "1",
			"upd_stkpc_tp":   "1",
		}
		nextKey := ""
		total := 0

		for page := 1; ; page++ {
			resp, err := f.client.Send(ctx, Request{
				APIID:   f.opts.APIID,
				Path:    chartPath,
				Body:    body,
				NextKey: nextKey,
			})
			if err != nil {
				yield(domain.Bar{}, err)
				return
			}

			res, err := f.parsePage(resp.Body, code, sessionDate)
			if err != nil {
				yield(domain.Bar{}, err)
				return
			}
			for _, b := range res.bars {
				if !yield(b, nil) {
					return
				}
			}
			total += len(res.bars)

			switch {
			case !resp.More():
				f.log.Debug("bars fetched", "code", code, "date", sessionDate, "pages", page, "bars", total)
				return
			case res.older:
				// Pages run backwards in time; the session is fully covered.
				f.log.Debug("bars fetched, reached earlier session", "code", code, "pages", page, "bars", total)
				return
			case page >= f.opts.MaxPages:
				f.log.Warn("page cap reached", "code", code, "pages", page, "bars", total)
				return
			}

			nextKey = resp.NextKey
			if err := util.Sleep(ctx, f.opts.PageDelay); err != nil {
				yield(domain.Bar{}, err)
				return
			}
		}
	}
}

// Collect drains FetchBars into a slice.
func (f *BarFetcher) Collect(ctx context.Context, code, sessionDate string) ([]domain.Bar, error) {
	var bars []domain.Bar
	for b, err := range f.FetchBars(ctx, code, sessionDate) {
		if err != nil {
			return bars, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

type pageResult struct {
	bars  []domain.Bar
	older bool // page contained rows from an earlier date
}

func (f *BarFetcher) parsePage(body []byte, code, sessionDate string) (pageResult, error) {
	var res pageResult

	doc, err := parseDoc("minute chart", body)
	if err != nil {
		return res, err
	}
	if err := checkReturnCode("minute chart", doc, body); err != nil {
		return res, err
	}
	items, ok := firstArray(doc, minuteListKeys...)
	if !ok {
		return res, domain.NewParseError("minute chart: no item list", body)
	}

	n, dropped, otherDate := 0, 0, 0
	items.ForEach(func(_, item gjson.Result) bool {
		n++
		rawTime, ok := firstString(item, timeKeys...)
		if !ok {
			dropped++
			f.log.Debug("bar dropped: no time field", "item", truncate(item.Raw, 120))
			return true
		}
		date, hhmm, err := normalizeTime(rawTime)
		if err != nil {
			dropped++
			f.log.Debug("bar dropped", "error", err)
			return true
		}
		if date != "" && sessionDate != "" && date != sessionDate {
			otherDate++
			if date < sessionDate {
				res.older = true
			}
			return true
		}
		rawPrice, ok := firstString(item, priceKeys...)
		if !ok {
			dropped++
			f.log.Debug("bar dropped: no price field", "time", hhmm)
			return true
		}
		price, err := parseAbsNumber(rawPrice)
		if err != nil || price.IsZero() {
			dropped++
			f.log.Debug("bar dropped: bad price", "time", hhmm, "raw", rawPrice)
			return true
		}
		if date == "" {
			date = sessionDate
		}
		res.bars = append(res.bars, domain.Bar{
			Date:  date,
			Time:  hhmm,
			Code:  code,
			Price: price.Div(f.scale).InexactFloat64(),
		})
		return true
	})

	if dropped > 0 {
		f.log.Warn("unparseable bars dropped", "code", code, "dropped", dropped, "items", n)
	}
	if n > 0 && len(res.bars) == 0 && otherDate == 0 {
		return res, domain.NewParseError("minute chart: no parseable bars", body)
	}
	return res, nil
}
