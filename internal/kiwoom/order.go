package kiwoom

import (
	"context"
	"fmt"
	"strconv"

	"momentum/internal/domain"
)

// PlaceMarketOrder submits a market order and returns the broker order
// number. The order POST is sent once: a timeout or 5xx leaves the outcome
// unknown and is returned to the caller as is. A nonzero return_code yields a
// *domain.RejectedError with the full server message.
func (a *API) PlaceMarketOrder(ctx context.Context, side domain.OrderSide, code string, qty int64) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("order qty %d: must be positive", qty)
	}
	apiID := APIBuyMarket
	if side == domain.OrderSideSell {
		apiID = APISellMarket
	}

	resp, err := a.client.Send(ctx, Request{
		APIID:   apiID,
		Path:    orderPath,
		NoRetry: true,
		Body: map[string]string{
			"dmst_stex_tp": a.exchange,
			"stk_cd":       code,
			"ord_qty":      strconv.FormatInt(qty, 10),
			"ord_uv":       "",
			"trde_tp":      "3", // market
			"cond_uv":      "",
		},
	})
	if err != nil {
		return "", err
	}

	doc, err := parseDoc("order", resp.Body)
	if err != nil {
		return "", err
	}

	rc := doc.Get("return_code")
	rt := doc.Get("rt_cd")
	accepted := (rc.Exists() && rc.Int() == 0) || (!rc.Exists() && rt.Exists() && rt.String() == "0")
	if !accepted {
		rcode := rc.String()
		if !rc.Exists() {
			rcode = rt.String()
		}
		msg, _ := firstString(doc, "return_msg", "msg1")
		a.log.Error("order rejected", "api_id", apiID, "side", side, "stk_cd", code, "qty", qty, "return_code", rcode, "reason", msg)
		return "", &domain.RejectedError{Code: rcode, Reason: msg}
	}

	ordNo, _ := firstString(doc, orderNoKeys...)
	a.log.Info("order accepted", "api_id", apiID, "side", side, "stk_cd", code, "qty", qty, "ord_no", ordNo)
	return ordNo, nil
}
