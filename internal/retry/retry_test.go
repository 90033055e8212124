package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Phathdt/pmm-sub001/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("http status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

type rpcErr struct{ code int }

func (e *rpcErr) Error() string  { return fmt.Sprintf("rpc error %d", e.code) }
func (e *rpcErr) ErrorCode() int { return e.code }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("invalid params")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(fmt.Errorf("wrapped: %w", Terminal(errors.New("rpc timed out"))))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)

	assert.Nil(t, Transient(nil))
	assert.Nil(t, Terminal(nil))
}

func TestClassify_RepresentativeErrors(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		class  Class
		reason string
	}{
		{"nil", nil, ClassTerminal, "nil_error"},
		{"canceled", context.Canceled, ClassTerminal, "context_canceled"},
		{"deadline", fmt.Errorf("quote: %w", context.DeadlineExceeded), ClassTransient, "context_deadline_exceeded"},
		{"breaker open", fmt.Errorf("swap venue: %w", circuitbreaker.ErrCircuitOpen), ClassTransient, "circuit_open"},
		{"net timeout", timeoutErr{}, ClassTransient, "net_timeout"},
		{"http 429", &statusErr{code: 429}, ClassTransient, "http_throttled"},
		{"http 503", fmt.Errorf("router: %w", &statusErr{code: 503}), ClassTransient, "http_server_error"},
		{"http 400", &statusErr{code: 400}, ClassTerminal, "http_client_error"},
		{"jsonrpc internal", &rpcErr{code: -32603}, ClassTransient, "jsonrpc_server_transient"},
		{"jsonrpc generic", &rpcErr{code: -32000}, ClassTerminal, "jsonrpc_terminal"},
		{"jsonrpc server range", &rpcErr{code: -32010}, ClassTransient, "jsonrpc_server_range"},
		{"reverted", errors.New("execution reverted: PaymentFailed"), ClassTerminal, "message_terminal"},
		{"refused", errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), ClassTransient, "message_transient"},
		{"unknown", errors.New("something odd"), ClassTerminal, "unknown_terminal_default"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := Classify(tc.err)
			assert.Equal(t, tc.class, d.Class)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.class == ClassTransient, IsTransient(tc.err))
		})
	}
}
