package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"momentum/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage
// API. Instrument codes are ticker symbols.
type AlpacaBroker struct {
	client *alpaca.Client
	data   *marketdata.Client
	feed   string
	log    *slog.Logger
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoints.
func NewAlpacaBroker(apiKey, apiSecret, baseURL, dataURL, feed string) *AlpacaBroker {
	mdOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		mdOpts.BaseURL = dataURL
	}
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(mdOpts),
		feed: feed,
		log:  slog.Default().With("component", "alpaca-broker"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// GetAccount returns cash and equity from GET /v2/account.
func (b *AlpacaBroker) GetAccount(_ context.Context) (domain.AccountBalance, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return domain.AccountBalance{}, classifyAlpaca("GetAccount", err)
	}
	b.log.Info("account fetched", "cash", acct.Cash.String(), "equity", acct.Equity.String())
	return domain.AccountBalance{Cash: acct.Cash, Equity: acct.Equity}, nil
}

// GetQuote returns the latest trade price.
func (b *AlpacaBroker) GetQuote(_ context.Context, code string) (domain.Quote, error) {
	trade, err := b.data.GetLatestTrade(code, marketdata.GetLatestTradeRequest{Feed: b.feed})
	if err != nil {
		return domain.Quote{}, classifyAlpaca("GetLatestTrade", err)
	}
	if trade == nil || trade.Price <= 0 {
		return domain.Quote{}, &domain.ParseError{What: "latest trade " + code}
	}
	return domain.Quote{Code: code, Price: trade.Price, Time: trade.Timestamp}, nil
}

// SubmitOrder sends a day market order via POST /v2/orders. The client
// order ID is the engine's order ID.
func (b *AlpacaBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	qty := decimal.NewFromInt(order.Qty)
	side := alpaca.Buy
	if order.Side == domain.OrderSideSell {
		side = alpaca.Sell
	}

	placed, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        order.Code,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: order.ID,
	})
	if err != nil {
		b.log.Error("place order failed", "side", side, "symbol", order.Code, "qty", order.Qty, "error", err)
		return order, placeOrderError(err)
	}

	b.log.Info("place order success", "order_id", placed.ID, "side", side, "symbol", order.Code, "qty", order.Qty, "status", placed.Status)
	order.BrokerID = placed.ID
	return order, nil
}

// GetHolding returns the open position; no position yields zero.
func (b *AlpacaBroker) GetHolding(_ context.Context, code string) (domain.Holding, error) {
	pos, err := b.client.GetPosition(code)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return domain.Holding{Code: code}, nil
		}
		return domain.Holding{}, classifyAlpaca("GetPosition", err)
	}
	avg, _ := pos.AvgEntryPrice.Float64()
	return domain.Holding{Code: code, Qty: pos.Qty.IntPart(), AvgPrice: avg}, nil
}

// Fills returns nil; trade updates are not streamed.
func (b *AlpacaBroker) Fills() <-chan domain.FillEvent {
	return nil
}

// classifyAlpaca maps SDK errors onto the engine's error kinds.
// placeOrderError reports an order the broker refused as a rejection.
// Refused credentials, throttling and server errors keep their kind.
func placeOrderError(err error) error {
	cerr := classifyAlpaca("PlaceOrder", err)
	var apiErr *domain.APIError
	if errors.As(cerr, &apiErr) && errors.Is(cerr, domain.ErrBadRequest) {
		return &domain.RejectedError{Code: fmt.Sprint(apiErr.Status), Reason: apiErr.Msg}
	}
	return cerr
}

func classifyAlpaca(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		var kind error
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			kind = domain.ErrRateLimit
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
			kind = domain.ErrAuth
		case apiErr.StatusCode >= 500:
			kind = domain.ErrTransientNetwork
		default:
			kind = domain.ErrBadRequest
		}
		return &domain.APIError{APIID: op, Status: apiErr.StatusCode, Msg: apiErr.Message, Kind: kind}
	}
	return &domain.APIError{APIID: op, Msg: err.Error(), Kind: domain.ErrTransientNetwork}
}
