package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/coinbase-connector/pkg/auth"
)

type recordedRequest struct {
	path    string
	headers http.Header
}

func setupRESTClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]recordedRequest) {
	t.Helper()

	var mu sync.Mutex
	requests := &[]recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*requests = append(*requests, recordedRequest{path: r.URL.Path, headers: r.Header.Clone()})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	opts := NewOptions()
	opts.APIKey = "test-key"
	opts.APISecret = "test-secret"
	opts.RESTBaseURL = server.URL
	opts.LogLevel = "error"

	c, err := NewClient(opts)
	require.NoError(t, err)
	return c, requests
}

func TestServerTime(t *testing.T) {
	c, requests := setupRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"iso":"2024-05-01T09:00:00Z","epochSeconds":"1714554000","epochMillis":"1714554000000"}`))
	})

	at, err := c.ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1714554000, 0).UTC(), at)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "/api/v3/brokerage/time", req.path)
	// Public endpoint: no signature headers.
	assert.Empty(t, req.headers.Get(auth.HeaderAccessKey))
	assert.Empty(t, req.headers.Get(auth.HeaderAccessSign))
}

func TestProductSignedRequest(t *testing.T) {
	c, requests := setupRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"product_id": "BTC-USD",
			"price": "64000.12",
			"volume_24h": "12345.6",
			"status": "online",
			"base_currency_id": "BTC",
			"quote_currency_id": "USD",
			"base_increment": "0.00000001",
			"quote_increment": "0.01"
		}`))
	})

	product, err := c.Product(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", product.ProductID)
	assert.Equal(t, "64000.12", product.Price.String())
	assert.Equal(t, "online", product.Status)
	assert.Equal(t, "BTC", product.BaseCurrencyID)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "/api/v3/brokerage/products/BTC-USD", req.path)
	assert.Equal(t, "test-key", req.headers.Get(auth.HeaderAccessKey))
	assert.NotEmpty(t, req.headers.Get(auth.HeaderAccessSign))
	assert.NotEmpty(t, req.headers.Get(auth.HeaderAccessTimestamp))
}

func TestRESTErrorStatus(t *testing.T) {
	c, _ := setupRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"NOT_FOUND"}`, http.StatusNotFound)
	})

	_, err := c.Product(context.Background(), "NOPE-USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
