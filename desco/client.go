/*
Package desco is a client for the DESCO prepaid customer API.

PURPOSE:
  Looks up the current prepaid balance (and, for reporting, a day's
  consumption in taka) for one account/meter pair.

ENDPOINTS:
  GET {base}/api/{systemType}/customer/getBalance
      ?accountNo=&meterNo=
  GET {base}/api/{systemType}/customer/getCustomerDailyConsumption
      ?accountNo=&meterNo=&dateFrom=YYYY-MM-DD&dateTo=YYYY-MM-DD

RESPONSE SHAPE:
  {"code": 200, "desc": "OK", "data": {"balance": 70.2, ...}}
  The consumption endpoint returns "data" as an object or a list of objects
  carrying "consumedTaka".

ERRORS:
  Every failure is a *monitor.FetchError:
  - FetchNetwork: transport error, timeout, unreadable body
  - FetchStatus:  HTTP status other than 200
  - FetchShape:   bad JSON, missing or negative amount

TLS:
  The public host has served an incomplete certificate chain. Verification
  can be disabled with WithInsecureSkipVerify; it is on by default.
*/
package desco

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/monitor"
)

const (
	// DefaultBaseURL is the public customer portal.
	DefaultBaseURL = "https://prepaid.desco.org.bd"

	userAgent = "Mozilla/5.0"
	maxBody   = 1 << 20
)

// Client queries the prepaid API.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		if !skip {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in, upstream chain is broken
		c.client.Transport = transport
	}
}

// NewClient constructs a client. An empty baseURL means DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type envelope struct {
	Code json.Number     `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

type balanceData struct {
	Balance *json.Number `json:"balance"`
}

type consumptionData struct {
	ConsumedTaka *json.Number `json:"consumedTaka"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// FetchBalance returns the current balance in BDT.
func (c *Client) FetchBalance(ctx context.Context, account monitor.Account) (decimal.Decimal, error) {
	const op = "balance"

	q := url.Values{}
	q.Set("accountNo", account.AccountNo)
	q.Set("meterNo", account.MeterNo)

	env, err := c.get(ctx, op, account.SystemType, "getBalance", q, true)
	if err != nil {
		return decimal.Zero, err
	}

	var data balanceData
	if err := decodeData(env.Data, &data); err != nil {
		return decimal.Zero, shapeErr(op, err)
	}
	if data.Balance == nil {
		return decimal.Zero, shapeErr(op, fmt.Errorf("no balance in response (code %s: %s)", env.Code, env.Desc))
	}
	return amount(op, *data.Balance)
}

// FetchDailyConsumption returns the taka consumed on day. When the API
// returns several records for the range they are summed.
func (c *Client) FetchDailyConsumption(ctx context.Context, account monitor.Account, day ledger.Date) (decimal.Decimal, error) {
	const op = "daily consumption"

	q := url.Values{}
	q.Set("accountNo", account.AccountNo)
	q.Set("meterNo", account.MeterNo)
	q.Set("dateFrom", day.ISO())
	q.Set("dateTo", day.ISO())

	env, err := c.get(ctx, op, account.SystemType, "getCustomerDailyConsumption", q, false)
	if err != nil {
		return decimal.Zero, err
	}

	var records []consumptionData
	trimmed := strings.TrimSpace(string(env.Data))
	if strings.HasPrefix(trimmed, "[") {
		err = decodeData(env.Data, &records)
	} else {
		var one consumptionData
		err = decodeData(env.Data, &one)
		records = append(records, one)
	}
	if err != nil {
		return decimal.Zero, shapeErr(op, err)
	}

	total := decimal.Zero
	found := false
	for _, r := range records {
		if r.ConsumedTaka == nil {
			continue
		}
		v, err := amount(op, *r.ConsumedTaka)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
		found = true
	}
	if !found {
		return decimal.Zero, shapeErr(op, errors.New("no consumedTaka in response"))
	}
	return total.Round(2), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) get(ctx context.Context, op, systemType, endpoint string, q url.Values, referer bool) (*envelope, error) {
	u := fmt.Sprintf("%s/api/%s/customer/%s?%s",
		c.baseURL, url.PathEscape(systemType), endpoint, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &monitor.FetchError{Kind: monitor.FetchNetwork, Op: op, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if referer {
		req.Header.Set("Referer", c.baseURL+"/")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &monitor.FetchError{Kind: monitor.FetchNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, &monitor.FetchError{Kind: monitor.FetchStatus, Op: op, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &monitor.FetchError{Kind: monitor.FetchNetwork, Op: op, Err: err}
	}

	var env envelope
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, shapeErr(op, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, shapeErr(op, fmt.Errorf("empty data (code %s: %s)", env.Code, env.Desc))
	}
	return &env, nil
}

func decodeData(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	return dec.Decode(v)
}

func amount(op string, n json.Number) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, shapeErr(op, err)
	}
	if d.IsNegative() {
		return decimal.Zero, shapeErr(op, fmt.Errorf("negative amount %s", d))
	}
	return d, nil
}

func shapeErr(op string, err error) error {
	return &monitor.FetchError{Kind: monitor.FetchShape, Op: op, Err: err}
}
