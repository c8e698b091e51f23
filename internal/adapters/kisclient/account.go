package kisclient

import (
	"context"
	"fmt"
	"net/url"

	"kistrader/internal/ports"
)

const balancePath = "/uapi/domestic-stock/v1/trading/inquire-balance"

func (c *Client) balanceTrID() string {
	if c.cfg.Virtual {
		return "VTTC8434R"
	}
	return "TTTC8434R"
}

func (c *Client) inquireBalance(ctx context.Context) (*apiResponse, error) {
	params := url.Values{}
	params.Set("CANO", c.cano())
	params.Set("ACNT_PRDT_CD", c.productCode())
	params.Set("AFHR_FLPR_YN", "N")
	params.Set("OFL_YN", "N")
	params.Set("INQR_DVSN", "02")
	params.Set("UNPR_DVSN", "01")
	params.Set("FUND_STTL_ICLD_YN", "N")
	params.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	params.Set("PRCS_DVSN", "00")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")

	resp, err := c.request(ctx, "GET", balancePath, c.balanceTrID(), params, nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("balance inquiry failed (%s %s): %w", resp.MsgCd, resp.Msg1, ports.ErrBrokerUnavailable)
	}
	return resp, nil
}

// GetHoldings returns the account's holdings keyed by code. Rows whose
// quantity is zero (sold out, still listed) are dropped. Field names vary
// across API generations; every known alias is tried here so callers only
// ever see the normalized shape.
func (c *Client) GetHoldings(ctx context.Context) (map[string]ports.Holding, error) {
	resp, err := c.inquireBalance(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(resp.Output1)
	if err != nil {
		return nil, fmt.Errorf("failed to decode holdings rows: %w", err)
	}

	holdings := make(map[string]ports.Holding, len(rows))
	for _, row := range rows {
		qty, _ := row.firstInt("hldg_qty", "hold_qty", "qty")
		if qty <= 0 {
			continue
		}
		code := row.firstString("pdno", "code")
		if code == "" {
			continue
		}
		avg, _ := row.firstFloat("pchs_avg_pric", "avg_prpr", "avg_price", "pchs_pric")
		last, _ := row.firstFloat("prpr", "last_price")
		pnl, _ := row.firstFloat("evlu_pfls_amt", "pl_amount")

		holdings[code] = ports.Holding{
			Code:      code,
			Name:      row.firstString("prdt_name", "name"),
			Qty:       qty,
			AvgPrice:  avg,
			LastPrice: last,
			EvalPnL:   pnl,
		}
	}
	return holdings, nil
}

// GetCashBalance returns the account's available cash (deposit total).
func (c *Client) GetCashBalance(ctx context.Context) (float64, error) {
	resp, err := c.inquireBalance(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := decodeRows(resp.Output2)
	if err != nil {
		return 0, fmt.Errorf("failed to decode balance summary: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	cash, _ := rows[0].firstFloat("dnca_tot_amt", "cash")
	return cash, nil
}
