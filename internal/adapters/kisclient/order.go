package kisclient

import (
	"context"
	"fmt"
	"strconv"

	"kistrader/internal/domain"
	"kistrader/internal/ports"
)

const (
	orderCashPath   = "/uapi/domestic-stock/v1/trading/order-cash"
	orderCancelPath = "/uapi/domestic-stock/v1/trading/order-rvsecncl"

	ordDvsnLimit  = "00"
	ordDvsnMarket = "01"
)

func (c *Client) orderTrID(side domain.OrderSide) string {
	switch {
	case side == domain.Buy && c.cfg.Virtual:
		return "VTTC0802U"
	case side == domain.Buy:
		return "TTTC0802U"
	case c.cfg.Virtual:
		return "VTTC0801U"
	default:
		return "TTTC0801U"
	}
}

func (c *Client) cancelTrID() string {
	if c.cfg.Virtual {
		return "VTTC0803U"
	}
	return "TTTC0803U"
}

// submitOrder places one cash order. Market orders carry price 0.
func (c *Client) submitOrder(ctx context.Context, side domain.OrderSide, code string, qty int64, ordDvsn string, price int64) (*ports.OrderAck, error) {
	body := map[string]string{
		"CANO":         c.cano(),
		"ACNT_PRDT_CD": c.productCode(),
		"PDNO":         code,
		"ORD_DVSN":     ordDvsn,
		"ORD_QTY":      strconv.FormatInt(qty, 10),
		"ORD_UNPR":     strconv.FormatInt(price, 10),
	}

	resp, err := c.request(ctx, "POST", orderCashPath, c.orderTrID(side), nil, body)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		if resp.RtCd == "" && resp.Msg1 == "" {
			return nil, fmt.Errorf("order for %s: %w", code, ports.ErrOrderAmbiguous)
		}
		return nil, fmt.Errorf("order for %s rejected (%s %s): %w", code, resp.MsgCd, resp.Msg1, ports.ErrOrderRejected)
	}

	out, err := decodeRow(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode order response for %s: %w", code, err)
	}
	ack := &ports.OrderAck{Message: resp.Msg1}
	if out != nil {
		ack.OrderID = out.firstString("ODNO", "odno", "order_no", "orderNo")
	}
	c.cfg.Logger.Info(ctx, "Order accepted", map[string]interface{}{
		"code": code, "side": side, "qty": qty, "ordDvsn": ordDvsn, "price": price, "orderID": ack.OrderID,
	})
	return ack, nil
}

// SubmitLimitBuy places a limit buy at price.
func (c *Client) SubmitLimitBuy(ctx context.Context, code string, qty int64, price int64) (*ports.OrderAck, error) {
	return c.submitOrder(ctx, domain.Buy, code, qty, ordDvsnLimit, price)
}

// SubmitLimitSell places a limit sell at price.
func (c *Client) SubmitLimitSell(ctx context.Context, code string, qty int64, price int64) (*ports.OrderAck, error) {
	return c.submitOrder(ctx, domain.Sell, code, qty, ordDvsnLimit, price)
}

// SubmitMarketSell places an unconditional market sell.
func (c *Client) SubmitMarketSell(ctx context.Context, code string, qty int64) (*ports.OrderAck, error) {
	return c.submitOrder(ctx, domain.Sell, code, qty, ordDvsnMarket, 0)
}

// CancelOrder cancels the remaining quantity of an open order.
// Implements ports.OrderCanceller.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]string{
		"CANO":               c.cano(),
		"ACNT_PRDT_CD":       c.productCode(),
		"KRX_FWDG_ORD_ORGNO": "",
		"ORGN_ODNO":          orderID,
		"ORD_DVSN":           ordDvsnLimit,
		"RVSE_CNCL_DVSN_CD":  "02", // cancel (01 is amend)
		"ORD_QTY":            "0",
		"ORD_UNPR":           "0",
		"QTY_ALL_ORD_YN":     "Y",
	}

	resp, err := c.request(ctx, "POST", orderCancelPath, c.cancelTrID(), nil, body)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("cancel of order %s failed (%s %s): %w", orderID, resp.MsgCd, resp.Msg1, ports.ErrOrderCancelFailed)
	}
	c.cfg.Logger.Info(ctx, "Order cancelled", map[string]interface{}{"orderID": orderID})
	return nil
}
