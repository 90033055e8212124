// Package pricefeed reads the BTC spot price used to bound swap slippage.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/httpjson"
	"github.com/shopspring/decimal"
)

const DefaultMaxAge = 15 * time.Second

var ErrInvalidPrice = errors.New("price feed returned a non-positive price")

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Oracle reads a ticker price and caches it for MaxAge.
type Oracle struct {
	http   *httpjson.Client
	symbol string
	maxAge time.Duration
	now    func() time.Time

	mu        sync.Mutex
	cached    decimal.Decimal
	fetchedAt time.Time
}

func NewOracle(http *httpjson.Client, symbol string, maxAge time.Duration) *Oracle {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Oracle{http: http, symbol: symbol, maxAge: maxAge, now: time.Now}
}

// BTCPrice returns the spot price in USD.
func (o *Oracle) BTCPrice(ctx context.Context) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.fetchedAt.IsZero() && o.now().Sub(o.fetchedAt) < o.maxAge {
		return o.cached, nil
	}

	var resp tickerResponse
	if err := o.http.Get(ctx, "/api/v3/ticker/price", url.Values{"symbol": {o.symbol}}, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("fetch %s price: %w", o.symbol, err)
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s price %q: %w", o.symbol, resp.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", o.symbol, ErrInvalidPrice)
	}

	o.cached = price
	o.fetchedAt = o.now()
	return price, nil
}
