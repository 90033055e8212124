package swapquote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/httpjson"
	"github.com/Phathdt/pmm-sub001/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	hc := httpjson.New("swap_venue", srv.URL, time.Second, httpjson.WithHeader("Authorization", "Bearer test"))
	c := NewClient(hc, Config{
		OriginAsset:      "nep141:btc.omft.near",
		DestinationAsset: "nep141:eth-0xa0b8.omft.near",
		RefundAddress:    "bc1qrefund",
		Recipient:        "0xrecipient",
		SlippageBps:      100,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestRequestQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/quote", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))

		var req quoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Dry)
		assert.Equal(t, "EXACT_INPUT", req.SwapType)
		assert.Equal(t, "100000000", req.Amount)
		assert.Equal(t, int64(100), req.SlippageTolerance)
		assert.Equal(t, "bc1qrefund", req.RefundTo)
		assert.Equal(t, "2026-01-01T00:30:00Z", req.Deadline)

		_, _ = w.Write([]byte(`{
			"correlationId": "corr-1",
			"quote": {
				"depositAddress": "bc1qdeposit",
				"amountIn": "100000000",
				"amountOut": "49000000000",
				"amountOutUsd": "49000.00",
				"deadline": "2026-01-01T00:30:00Z",
				"timeEstimate": 600
			}
		}`))
	})

	q, err := c.RequestQuote(context.Background(), big.NewInt(100_000_000))
	require.NoError(t, err)
	assert.Equal(t, "corr-1", q.QuoteID)
	assert.Equal(t, "bc1qdeposit", q.DepositAddress)
	assert.Equal(t, "49000000000", q.AmountOut.String())
	assert.Equal(t, 10*time.Minute, q.TimeEstimate)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC), q.Deadline)
}

func TestRequestQuote_Errors(t *testing.T) {
	t.Run("non-positive amount", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("no request expected")
		})
		_, err := c.RequestQuote(context.Background(), big.NewInt(0))
		require.Error(t, err)
	})

	t.Run("missing deposit address", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"correlationId":"x","quote":{"amountIn":"1","amountOut":"1"}}`))
		})
		_, err := c.RequestQuote(context.Background(), big.NewInt(1))
		assert.ErrorIs(t, err, ErrEmptyQuote)
	})

	t.Run("bad amount", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"quote":{"depositAddress":"d","amountIn":"1","amountOut":"1.5"}}`))
		})
		_, err := c.RequestQuote(context.Background(), big.NewInt(1))
		require.Error(t, err)
	})

	t.Run("server error is transient", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream", http.StatusBadGateway)
		})
		_, err := c.RequestQuote(context.Background(), big.NewInt(1))
		require.Error(t, err)
		assert.True(t, retry.IsTransient(err))
	})

	t.Run("bad request is terminal", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"amount too low"}`, http.StatusBadRequest)
		})
		_, err := c.RequestQuote(context.Background(), big.NewInt(1))
		require.Error(t, err)
		assert.False(t, retry.IsTransient(err))
	})
}

func TestSubmitDeposit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v0/deposit/submit", r.URL.Path)
		var req submitDepositRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "txhash", req.TxHash)
		assert.Equal(t, "bc1qdeposit", req.DepositAddress)
		_, _ = w.Write([]byte(`{"status":"KNOWN_DEPOSIT_TX"}`))
	})
	require.NoError(t, c.SubmitDeposit(context.Background(), "txhash", "bc1qdeposit"))
}

func TestGetStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/status", r.URL.Path)
		assert.Equal(t, "bc1qdeposit", r.URL.Query().Get("depositAddress"))
		_, _ = w.Write([]byte(`{
			"status": "SUCCESS",
			"updatedAt": "2026-01-01T01:00:00Z",
			"swapDetails": {
				"amountOut": "48950000000",
				"originChainTxHashes": [{"hash": "btctx"}],
				"destinationChainTxHashes": [{"hash": "0xdest"}]
			}
		}`))
	})

	st, err := c.GetStatus(context.Background(), "bc1qdeposit")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.True(t, st.Status.IsFinal())
	assert.Equal(t, "48950000000", st.AmountOut.String())
	assert.Equal(t, "btctx", st.OriginChainTxHash)
	assert.Equal(t, "0xdest", st.DestinationChainTxHash)
}

func TestGetStatus_ProcessingWithoutAmount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"processing","swapDetails":{}}`))
	})
	st, err := c.GetStatus(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, st.Status)
	assert.False(t, st.Status.IsFinal())
	assert.Nil(t, st.AmountOut)
}
