package kiwoom

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"momentum/internal/domain"
)

const (
	accountPath   = "/api/dostk/acnt"
	marketPath    = "/api/dostk/mrkcond"
	sectorPath    = "/api/dostk/sect"
	orderPath     = "/api/dostk/ordr"
	APIBalance    = "kt00004"
	APIHoldings   = "kt00018"
	APIQuote      = "ka10001"
	APIForeign    = "ka10051"
	APIBuyMarket  = "kt10000"
	APISellMarket = "kt10001"
)

// API wraps the non-chart endpoints used by the engine.
type API struct {
	client   Sender
	exchange string
	log      *slog.Logger
}

// NewAPI creates an API over client. exchange is sent as dmst_stex_tp.
func NewAPI(client Sender, exchange string) *API {
	if exchange == "" {
		exchange = "KRX"
	}
	return &API{
		client:   client,
		exchange: exchange,
		log:      slog.Default().With("component", "kiwoom-api"),
	}
}

// Balance fetches orderable cash and estimated equity.
func (a *API) Balance(ctx context.Context) (domain.AccountBalance, error) {
	resp, err := a.client.Send(ctx, Request{
		APIID: APIBalance,
		Path:  accountPath,
		Body:  map[string]string{"qry_tp": "0", "dmst_stex_tp": a.exchange},
	})
	if err != nil {
		return domain.AccountBalance{}, err
	}

	doc, err := parseDoc("balance", resp.Body)
	if err != nil {
		return domain.AccountBalance{}, err
	}
	if err := checkReturnCode("balance", doc, resp.Body); err != nil {
		return domain.AccountBalance{}, err
	}

	cash, key, ok := firstNumber(doc, cashKeys...)
	if !ok {
		return domain.AccountBalance{}, domain.NewParseError("balance: no cash field", resp.Body)
	}
	equity, _, ok := firstNumber(doc, equityKeys...)
	if !ok {
		equity = cash
	}
	a.log.Info("balance fetched", "cash", cash.String(), "cash_field", key, "equity", equity.String())
	return domain.AccountBalance{Cash: cash, Equity: equity}, nil
}

// Holding returns the quantity held for code. An instrument absent from the
// account yields a zero Holding.
func (a *API) Holding(ctx context.Context, code string) (domain.Holding, error) {
	resp, err := a.client.Send(ctx, Request{
		APIID: APIHoldings,
		Path:  accountPath,
		Body:  map[string]string{"qry_tp": "1", "dmst_stex_tp": a.exchange},
	})
	if err != nil {
		return domain.Holding{}, err
	}

	doc, err := parseDoc("holdings", resp.Body)
	if err != nil {
		return domain.Holding{}, err
	}
	if err := checkReturnCode("holdings", doc, resp.Body); err != nil {
		return domain.Holding{}, err
	}
	items, ok := firstArray(doc, holdingKeys...)
	if !ok {
		return domain.Holding{}, domain.NewParseError("holdings: no item list", resp.Body)
	}

	h := domain.Holding{Code: code}
	items.ForEach(func(_, item gjson.Result) bool {
		itemCode, _ := firstString(item, "stk_cd", "pdno")
		if normalizeCode(itemCode) != normalizeCode(code) {
			return true
		}
		if qty, _, ok := firstNumber(item, holdingQtyKeys...); ok {
			h.Qty = qty.IntPart()
		}
		if avg, _, ok := firstNumber(item, holdingAvgKeys...); ok {
			h.AvgPrice = avg.InexactFloat64()
		}
		return false
	})
	a.log.Info("holding fetched", "code", code, "qty", h.Qty)
	return h, nil
}

// Quote fetches the current price of code.
func (a *API) Quote(ctx context.Context, code string) (domain.Quote, error) {
	resp, err := a.client.Send(ctx, Request{
		APIID: APIQuote,
		Path:  marketPath,
		Body:  map[string]string{"stk_cd": code},
	})
	if err != nil {
		return domain.Quote{}, err
	}

	doc, err := parseDoc("quote", resp.Body)
	if err != nil {
		return domain.Quote{}, err
	}
	if err := checkReturnCode("quote", doc, resp.Body); err != nil {
		return domain.Quote{}, err
	}
	price, _, ok := firstNumber(doc, "cur_prc", "stck_prpr")
	if !ok || price.IsZero() {
		return domain.Quote{}, domain.NewParseError("quote: no price", resp.Body)
	}
	return domain.Quote{Code: code, Price: price.InexactFloat64()}, nil
}

// ForeignNetFlow returns the net foreign buying of the sector whose code
// starts with sectorPrefix ("001" = KOSPI) on date.
func (a *API) ForeignNetFlow(ctx context.Context, date, market, sectorPrefix string) (float64, error) {
	resp, err := a.client.Send(ctx, Request{
		APIID: APIForeign,
		Path:  sectorPath,
		Body: map[string]string{
			"mrkt_tp":    market,
			"amt_qty_tp": "0",
			"base_dt":    date,
			"stex_tp":    "3",
		},
	})
	if err != nil {
		return 0, err
	}

	doc, err := parseDoc("foreign flow", resp.Body)
	if err != nil {
		return 0, err
	}
	if err := checkReturnCode("foreign flow", doc, resp.Body); err != nil {
		return 0, err
	}
	items, ok := firstArray(doc, "inds_netprps", "output")
	if !ok {
		return 0, domain.NewParseError("foreign flow: no item list", resp.Body)
	}

	var (
		net   decimal.Decimal
		found bool
	)
	items.ForEach(func(_, item gjson.Result) bool {
		cd, _ := firstString(item, "inds_cd")
		if !strings.HasPrefix(cd, sectorPrefix) {
			return true
		}
		raw, ok := firstString(item, "frgnr_netprps")
		if !ok {
			return true
		}
		v, err := parseSignedNumber(raw)
		if err != nil {
			return true
		}
		net, found = v, true
		return false
	})
	if !found {
		return 0, domain.NewParseError("foreign flow: sector "+sectorPrefix+" missing", resp.Body)
	}
	a.log.Info("foreign flow fetched", "date", date, "sector", sectorPrefix, "net", net.String())
	return net.InexactFloat64(), nil
}

// normalizeCode strips the "A" prefix the account endpoints put on codes.
func normalizeCode(c string) string {
	c = strings.TrimSpace(c)
	if len(c) == 7 && (c[0] == 'A' || c[0] == 'a') {
		return c[1:]
	}
	return c
}
