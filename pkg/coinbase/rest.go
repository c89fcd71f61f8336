package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veiloq/coinbase-connector/pkg/ratelimit"
)

// REST paths for the Advanced Trade API.
const (
	pathServerTime = "/api/v3/brokerage/time"
	pathProducts   = "/api/v3/brokerage/products"
)

// Product is a tradable product definition from the REST API.
type Product struct {
	ProductID       string          `json:"product_id"`
	Price           decimal.Decimal `json:"price"`
	Volume24H       decimal.Decimal `json:"volume_24h"`
	Status          string          `json:"status"`
	BaseCurrencyID  string          `json:"base_currency_id"`
	QuoteCurrencyID string          `json:"quote_currency_id"`
	BaseIncrement   decimal.Decimal `json:"base_increment"`
	QuoteIncrement  decimal.Decimal `json:"quote_increment"`
}

// restClient shares the client's signer but carries its own rate limit
// bucket; REST and WebSocket budgets are independent at the venue.
type restClient struct {
	baseURL string
	http    *http.Client
	limiter ratelimit.RateLimiter
}

func (c *Client) rest() *restClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restc == nil {
		c.restc = &restClient{
			baseURL: c.opts.RESTBaseURL,
			http:    &http.Client{Timeout: c.opts.HTTPTimeout},
			limiter: ratelimit.NewRESTLimiter(),
		}
	}
	return c.restc
}

// ServerTime fetches the venue's clock. Public endpoint, no signature.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var payload struct {
		ISO          string `json:"iso"`
		EpochSeconds string `json:"epochSeconds"`
	}
	if err := c.doRequest(ctx, http.MethodGet, pathServerTime, false, &payload); err != nil {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(payload.EpochSeconds, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse server time %q: %w", payload.EpochSeconds, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// Product fetches one product definition. Signed endpoint.
func (c *Client) Product(ctx context.Context, productID string) (*Product, error) {
	var product Product
	path := pathProducts + "/" + productID
	if err := c.doRequest(ctx, http.MethodGet, path, true, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, signed bool, out interface{}) error {
	rc := c.rest()
	if err := rc.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, rc.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		timestamp := strconv.FormatInt(c.clk.Now().Unix(), 10)
		for k, vs := range c.signer.RequestHeaders(timestamp, method, path, nil) {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := rc.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
