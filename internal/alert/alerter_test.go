package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAlert() Alert {
	return StuckAlert("9f1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e", "trade-42", 25.5, 24, "quote timeout")
}

func countingServer(status int, counter *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.Add(1)
		w.WriteHeader(status)
	}))
}

func TestMultiAlerter_Send_AllChannels(t *testing.T) {
	var slackReceived, webhookReceived atomic.Int32
	slackSrv := countingServer(http.StatusOK, &slackReceived)
	defer slackSrv.Close()
	webhookSrv := countingServer(http.StatusOK, &webhookReceived)
	defer webhookSrv.Close()

	multi := NewMultiAlerter(time.Hour, testLogger(), NewSlackAlerter(slackSrv.URL), NewWebhookAlerter(webhookSrv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), slackReceived.Load())
	assert.Equal(t, int32(1), webhookReceived.Load())
}

func TestMultiAlerter_CooldownDedup(t *testing.T) {
	var received atomic.Int32
	srv := countingServer(http.StatusOK, &received)
	defer srv.Close()

	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(srv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), received.Load())

	// A different subject is not deduplicated.
	other := StuckAlert("00000000000000000000000000000001", "trade-43", 30, 24, "")
	require.NoError(t, multi.Send(context.Background(), other))
	assert.Equal(t, int32(2), received.Load())
}

func TestMultiAlerter_CooldownExpiry(t *testing.T) {
	var received atomic.Int32
	srv := countingServer(http.StatusOK, &received)
	defer srv.Close()

	multi := NewMultiAlerter(time.Millisecond, testLogger(), NewWebhookAlerter(srv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(2), received.Load())
}

func TestMultiAlerter_PrunesExpiredEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	multi := NewMultiAlerter(time.Hour, testLogger(), &NoopAlerter{})
	multi.now = func() time.Time { return now }

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	now = now.Add(2 * time.Hour)
	require.NoError(t, multi.Send(context.Background(), SwapFailedAlert("rb-2", "bc1qdeposit", "REFUNDED")))

	assert.Len(t, multi.lastSent, 1)
	_, ok := multi.lastSent["SWAP_FAILED:rb-2"]
	assert.True(t, ok)
}

func TestMultiAlerter_PartialFailure(t *testing.T) {
	var failReceived, goodReceived atomic.Int32
	failSrv := countingServer(http.StatusInternalServerError, &failReceived)
	defer failSrv.Close()
	goodSrv := countingServer(http.StatusOK, &goodReceived)
	defer goodSrv.Close()

	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(failSrv.URL), NewWebhookAlerter(goodSrv.URL))

	assert.Error(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), goodReceived.Load())
}

func TestSlackAlerter_PayloadFormat(t *testing.T) {
	emojiTests := []struct {
		alertType AlertType
		emoji     string
	}{
		{AlertTypeStuck, ":rotating_light:"},
		{AlertTypeSlippageHigh, ":warning:"},
		{AlertTypeSlippageExceeded, ":no_entry:"},
		{AlertTypeTransferFailed, ":x:"},
		{AlertTypeSwapFailed, ":x:"},
	}
	for _, tc := range emojiTests {
		t.Run(fmt.Sprintf("emoji_%s", tc.alertType), func(t *testing.T) {
			var body []byte
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ = io.ReadAll(r.Body)
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			a := Alert{
				Type:    tc.alertType,
				Subject: "rb-1",
				Title:   "title",
				Message: "message",
				Fields:  map[string]string{"b": "2", "a": "1"},
			}
			require.NoError(t, NewSlackAlerter(srv.URL).Send(context.Background(), a))

			var p map[string]string
			require.NoError(t, json.Unmarshal(body, &p))
			text := p["text"]
			assert.True(t, strings.HasPrefix(text, tc.emoji), "got: %s", text)
			assert.Contains(t, text, string(tc.alertType))
			assert.Contains(t, text, "rb-1")
			assert.Less(t, strings.Index(text, "*a*"), strings.Index(text, "*b*"), "fields are sorted")
		})
	}
}

func TestWebhookAlerter_PayloadFormat(t *testing.T) {
	var capturedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := SlippageAlert("rb-7", 320, 300, "50000.00", "48400.00", true)
	require.NoError(t, NewWebhookAlerter(srv.URL).Send(context.Background(), a))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(capturedBody, &payload))
	assert.Equal(t, string(AlertTypeSlippageExceeded), payload["type"])
	assert.Equal(t, "rb-7", payload["subject"])

	fields, ok := payload["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "320", fields["slippage_bps"])
	assert.Equal(t, "300", fields["threshold_bps"])
	assert.Equal(t, "48400.00", fields["quoted_usd"])

	timeStr, ok := payload["time"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, timeStr)
	require.NoError(t, err)
}

func TestAlertBuilders(t *testing.T) {
	stuck := testAlert()
	assert.Equal(t, AlertTypeStuck, stuck.Type)
	assert.Equal(t, "25.5", stuck.Fields["elapsed_hours"])
	assert.Equal(t, "24", stuck.Fields["max_hours"])
	assert.Equal(t, "quote timeout", stuck.Fields["last_error"])

	assert.Equal(t, "none", StuckAlert("rb", "", 1, 24, "").Fields["last_error"])

	high := SlippageAlert("rb", 180, 300, "1", "2", false)
	assert.Equal(t, AlertTypeSlippageHigh, high.Type)

	failed := TransferFailedAlert("trade-1", "ethereum", "0xabc", "100", fmt.Errorf("execution reverted"))
	assert.Equal(t, AlertTypeTransferFailed, failed.Type)
	assert.Equal(t, "execution reverted", failed.Message)
	assert.Equal(t, "ethereum", failed.Fields["network_id"])

	swap := SwapFailedAlert("rb", "bc1qdeposit", "REFUNDED")
	assert.Equal(t, AlertTypeSwapFailed, swap.Type)
	assert.Equal(t, "Venue reported REFUNDED", swap.Message)

	deposit := DepositUnknownAlert("rb", "bc1qdeposit", "abcd", fmt.Errorf("broadcast: timeout"))
	assert.Equal(t, AlertTypeDepositUnknown, deposit.Type)
	assert.Equal(t, "abcd", deposit.Fields["tx_hash"])
	assert.Equal(t, "broadcast: timeout", deposit.Message)
}

func TestNoopAlerter(t *testing.T) {
	assert.NoError(t, (&NoopAlerter{}).Send(context.Background(), testAlert()))
}
