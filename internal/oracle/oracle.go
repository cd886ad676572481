// Package oracle is the price-feed collaborator boundary. The engine only
// ever asks for the current reference price; any failure aborts the whole
// triggering operation with no state change.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable wraps every feed failure so callers can classify it as a
// collaborator error without caring about transport details.
var ErrUnavailable = errors.New("oracle: price feed unavailable")

// PriceFeed returns the current reference price as a non-negative integer
// decimal at the feed's own scale.
type PriceFeed interface {
	Price(ctx context.Context) (decimal.Decimal, error)
}

// HTTPFeed reads the price from a JSON endpoint: {"price": "12345"}.
// The price field may be a JSON string or number.
type HTTPFeed struct {
	url    string
	client *http.Client
}

// NewHTTPFeed creates a feed client for the given endpoint.
func NewHTTPFeed(url string, timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPFeed{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type priceResponse struct {
	Price json.Number `json:"price"`
}

func (f *HTTPFeed) Price(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	price, err := decimal.NewFromString(body.Price.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad price %q", ErrUnavailable, body.Price)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price %s", ErrUnavailable, price)
	}
	return price, nil
}

// StaticFeed serves a settable fixed price. Used in tests and local
// development without a real oracle.
type StaticFeed struct {
	mu    sync.RWMutex
	price decimal.Decimal
	fail  bool
}

// NewStaticFeed creates a static feed with an initial price.
func NewStaticFeed(price decimal.Decimal) *StaticFeed {
	return &StaticFeed{price: price}
}

func (f *StaticFeed) Price(_ context.Context) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.fail {
		return decimal.Zero, ErrUnavailable
	}
	return f.price, nil
}

// SetPrice updates the served price.
func (f *StaticFeed) SetPrice(price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
}

// SetFailing makes subsequent Price calls fail, for exercising abort paths.
func (f *StaticFeed) SetFailing(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}
