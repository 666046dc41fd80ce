package kiwoom

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"momentum/internal/domain"
)

// Known field-name variants. The API reports the same quantity under
// different keys depending on endpoint and version.
var (
	minuteListKeys = []string{"stk_min_pole_chart_qry", "stk_min_pole_chart_qty", "inds_min_pole_qry", "rec", "output"}
	timeKeys       = []string{"cntr_tm", "trd_tm", "trd_time", "time", "hhmm", "hhmmss", "stk_tm", "stck_bsop_time"}
	priceKeys      = []string{"cur_prc", "clpr", "close_pric", "stck_prpr", "prpr"}
	cashKeys       = []string{"ord_alow_amt", "ord_alowa", "100ord_alow_amt", "d2_entra", "entr", "dnca_tot_amt", "prsm_dpst_aset_amt"}
	equityKeys     = []string{"prsm_dpst_aset_amt", "tot_est_amt", "aset_evlt_amt", "tot_evlt_amt"}
	holdingKeys    = []string{"acnt_evlt_remn_indv_tot", "output1", "rec"}
	holdingQtyKeys = []string{"rmnd_qty", "hldg_qty", "trde_able_qty"}
	holdingAvgKeys = []string{"pur_pric", "avg_prc", "pchs_avg_pric"}
	orderNoKeys    = []string{"ord_no", "odno", "data.ord_no"}
)

// parseDoc validates body as JSON.
func parseDoc(what string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, domain.NewParseError(what, body)
	}
	return gjson.ParseBytes(body), nil
}

// checkReturnCode turns a nonzero return_code on a data endpoint into a
// ParseError carrying the server message.
func checkReturnCode(what string, doc gjson.Result, body []byte) error {
	rc := doc.Get("return_code")
	if !rc.Exists() || rc.Int() == 0 {
		return nil
	}
	pe := domain.NewParseError(what, body)
	pe.What = fmt.Sprintf("%s (return_code=%d: %s)", what, rc.Int(), doc.Get("return_msg").String())
	return pe
}

// firstString returns the first non-empty value among keys.
func firstString(r gjson.Result, keys ...string) (string, bool) {
	for _, k := range keys {
		v := r.Get(k)
		if v.Exists() && strings.TrimSpace(v.String()) != "" {
			return strings.TrimSpace(v.String()), true
		}
	}
	return "", false
}

// firstArray returns the first key holding a JSON array.
func firstArray(r gjson.Result, keys ...string) (gjson.Result, bool) {
	for _, k := range keys {
		v := r.Get(k)
		if v.IsArray() {
			return v, true
		}
	}
	return gjson.Result{}, false
}

// parseAbsNumber parses values such as "+1,234", "-56,700" or "  789" and
// returns the absolute value. Prices carry a direction sign that is not
// part of the magnitude.
func parseAbsNumber(s string) (decimal.Decimal, error) {
	clean := strings.NewReplacer(",", "", " ", "", "+", "", "-", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return decimal.Zero, fmt.Errorf("empty number %q", s)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("number %q: %w", s, err)
	}
	return d.Abs(), nil
}

// parseSignedNumber keeps the sign; used for flows where direction matters.
func parseSignedNumber(s string) (decimal.Decimal, error) {
	clean := strings.NewReplacer(",", "", " ", "", "+", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return decimal.Zero, fmt.Errorf("empty number %q", s)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("number %q: %w", s, err)
	}
	return d, nil
}

// firstNumber parses the first present numeric field among keys.
func firstNumber(r gjson.Result, keys ...string) (decimal.Decimal, string, bool) {
	for _, k := range keys {
		v := r.Get(k)
		if !v.Exists() {
			continue
		}
		d, err := parseAbsNumber(v.String())
		if err == nil {
			return d, k, true
		}
	}
	return decimal.Zero, "", false
}

// normalizeTime reduces HHMM, HHMMSS, YYYYMMDDHHMM or YYYYMMDDHHMMSS to
// (date, HHMM). date is empty when the raw value carried none.
func normalizeTime(raw string) (date, hhmm string, err error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()

	switch len(d) {
	case 14, 12:
		date, hhmm = d[:8], d[8:12]
	case 6:
		hhmm = d[:4]
	case 5: // HMMSS with the leading zero dropped
		hhmm = "0" + d[:3]
	case 4:
		hhmm = d
	case 3:
		hhmm = "0" + d
	default:
		return "", "", fmt.Errorf("time %q: unsupported length %d", raw, len(d))
	}

	if _, err := domain.ClockMinutes(hhmm); err != nil {
		return "", "", fmt.Errorf("time %q: %w", raw, err)
	}
	return date, hhmm, nil
}
