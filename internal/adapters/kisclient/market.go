package kisclient

import (
	"context"
	"fmt"
	"net/url"

	"kistrader/internal/ports"
)

const (
	quotePath     = "/uapi/domestic-stock/v1/quotations/inquire-price"
	orderbookPath = "/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn"

	quoteTrID     = "FHKST01010100" // same for live and paper accounts
	orderbookTrID = "FHKST01010200"
)

func marketParams(code string) url.Values {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", code)
	return params
}

// GetQuote returns the current traded price for code. A missing or
// non-positive price surfaces as ports.ErrQuoteUnavailable so callers can
// skip the tick without treating it as a trigger.
func (c *Client) GetQuote(ctx context.Context, code string) (float64, error) {
	resp, err := c.request(ctx, "GET", quotePath, quoteTrID, marketParams(code), nil)
	if err != nil {
		return 0, err
	}
	if !resp.ok() {
		return 0, fmt.Errorf("quote inquiry for %s failed (%s): %w", code, resp.Msg1, ports.ErrQuoteUnavailable)
	}

	out, err := decodeRow(resp.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to decode quote for %s: %w", code, err)
	}
	price, found := out.firstFloat("stck_prpr", "prpr", "price")
	if !found || price <= 0 {
		return 0, fmt.Errorf("quote for %s carried no usable price: %w", code, ports.ErrQuoteUnavailable)
	}
	return price, nil
}

// GetBestBid returns the best bid for code, preferring the orderbook
// endpoint and falling back to the bid field of the plain quote.
func (c *Client) GetBestBid(ctx context.Context, code string) (float64, error) {
	resp, err := c.request(ctx, "GET", orderbookPath, orderbookTrID, marketParams(code), nil)
	if err == nil && resp.ok() {
		// The orderbook payload arrives in output1 on current API
		// versions and output on older ones.
		for _, raw := range [][]byte{resp.Output1, resp.Output} {
			out, derr := decodeRow(raw)
			if derr != nil || out == nil {
				continue
			}
			if bid, found := out.firstFloat("bidp1", "stck_bidp1", "best_bid"); found && bid > 0 {
				return bid, nil
			}
		}
	}

	resp, err = c.request(ctx, "GET", quotePath, quoteTrID, marketParams(code), nil)
	if err != nil {
		return 0, err
	}
	if !resp.ok() {
		return 0, fmt.Errorf("bid inquiry for %s failed (%s): %w", code, resp.Msg1, ports.ErrQuoteUnavailable)
	}
	out, err := decodeRow(resp.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to decode bid for %s: %w", code, err)
	}
	bid, found := out.firstFloat("stck_bidp", "bidp", "bid_prpr")
	if !found || bid <= 0 {
		return 0, fmt.Errorf("no usable bid for %s: %w", code, ports.ErrQuoteUnavailable)
	}
	return bid, nil
}
