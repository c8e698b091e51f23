package kisclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"kistrader/internal/ports"

	"github.com/google/uuid"
)

const defaultBaseURL = "https://openapi.koreainvestment.com:9443"

// Config holds configuration for the KIS REST client.
type Config struct {
	AppKey    string
	AppSecret string
	AccountNo string // "12345678-01" (account number dash product code)
	BaseURL   string
	Virtual   bool // Paper-trading endpoints use different tr_ids
	Timeout   time.Duration
	Logger    ports.Logger
}

// Client talks to the KIS domestic-stock REST API. It manages the OAuth
// access token and funnels every call through a single request helper; the
// feature methods (account, market, order) live in sibling files.
type Client struct {
	cfg   Config
	httpc *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a KIS client. The token is fetched lazily on first use.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for KIS client")
	}
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("KIS app key and secret are required: %w", ports.ErrConfigurationError)
	}
	if !strings.Contains(cfg.AccountNo, "-") {
		return nil, fmt.Errorf("KIS account number must be of the form 12345678-01: %w", ports.ErrConfigurationError)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// cano returns the leading 8 digits of the account number.
func (c *Client) cano() string {
	return strings.SplitN(c.cfg.AccountNo, "-", 2)[0]
}

// productCode returns the trailing 2-digit account product code.
func (c *Client) productCode() string {
	parts := strings.SplitN(c.cfg.AccountNo, "-", 2)
	return parts[1]
}

// apiResponse is the common KIS response envelope. Which output fields are
// populated depends on the endpoint.
type apiResponse struct {
	RtCd    string          `json:"rt_cd"`
	MsgCd   string          `json:"msg_cd"`
	Msg1    string          `json:"msg1"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
	Output2 json.RawMessage `json:"output2"`
}

// ok reports whether the response carries a recognized success marker.
// Anything else is treated as failure, including a clean HTTP 200 with an
// unknown payload.
func (r *apiResponse) ok() bool {
	if r.RtCd == "0" {
		return true
	}
	msg := strings.ToLower(r.Msg1)
	return strings.Contains(msg, "success") || strings.Contains(r.Msg1, "정상")
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w (%w)", err, ports.ErrBrokerUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned HTTP %d: %w", resp.StatusCode, ports.ErrAuthenticationFailed)
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		AccessToken2 string `json:"accessToken"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	token := tok.AccessToken
	if token == "" {
		token = tok.AccessToken2
	}
	if token == "" {
		return fmt.Errorf("token response carried no access token: %w", ports.ErrAuthenticationFailed)
	}

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	c.token = token
	// Refresh a minute early so a token never expires mid-request.
	c.tokenExpiry = time.Now().Add(time.Duration(maxInt(expiresIn-60, 60)) * time.Second)
	c.cfg.Logger.Debug(ctx, "KIS access token refreshed", map[string]interface{}{"expiresIn": expiresIn})
	return nil
}

// request performs one authenticated API call and decodes the common
// envelope. A non-success rt_cd is returned as the response, not an error;
// callers decide how strict to be.
func (c *Client) request(ctx context.Context, method, path, trID string, params url.Values, body interface{}) (*apiResponse, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", path, err)
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	if trID != "" {
		req.Header.Set("tr_id", trID)
	}
	// Per-request GUID so broker-side and local logs can be correlated.
	traceID := uuid.New().String()
	req.Header.Set("gt_uid", traceID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w (%w)", path, err, ports.ErrBrokerUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.cfg.Logger.Warn(ctx, "KIS API returned non-200", map[string]interface{}{
			"path": path, "status": resp.StatusCode, "traceID": traceID,
		})
		return nil, fmt.Errorf("%s returned HTTP %d: %w", path, resp.StatusCode, ports.ErrBrokerUnavailable)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response for %s: %w", path, err)
	}
	return &out, nil
}

// --- loose-field helpers ---
//
// KIS payloads are maps of string-typed numbers whose key names drifted
// across API generations. These helpers pull the first present key so the
// rest of the adapter reads declaratively.

type looseRow map[string]interface{}

func decodeRows(raw json.RawMessage) ([]looseRow, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []looseRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func decodeRow(raw json.RawMessage) (looseRow, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var row looseRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func (r looseRow) firstString(keys ...string) string {
	for _, k := range keys {
		if v, found := r[k]; found && v != nil {
			s := strings.TrimSpace(fmt.Sprintf("%v", v))
			if s != "" {
				return s
			}
		}
	}
	return ""
}

func (r looseRow) firstFloat(keys ...string) (float64, bool) {
	s := r.firstString(keys...)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (r looseRow) firstInt(keys ...string) (int64, bool) {
	f, found := r.firstFloat(keys...)
	if !found {
		return 0, false
	}
	return int64(f), true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
