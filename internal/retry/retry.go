package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/Phathdt/pmm-sub001/internal/circuitbreaker"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision is the outcome of classifying an error.
type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its content.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient, reason: "explicit_transient"}
}

// Terminal marks err as non-retryable regardless of its content.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: "explicit_terminal"}
}

// httpStatusError is implemented by the REST venue clients.
type httpStatusError interface {
	HTTPStatusCode() int
}

// jsonRPCError matches go-ethereum's rpc.Error and the Solana RPC client error.
type jsonRPCError interface {
	ErrorCode() int
}

func transient(reason string) Decision { return Decision{Class: ClassTransient, Reason: reason} }
func terminal(reason string) Decision  { return Decision{Class: ClassTerminal, Reason: reason} }

// rule inspects an error and reports a decision when it applies.
type rule func(err error) (Decision, bool)

// rules run in order; the first match wins.
var rules = []rule{
	func(err error) (Decision, bool) {
		var marked *classifiedError
		if errors.As(err, &marked) {
			return Decision{Class: marked.class, Reason: marked.reason}, true
		}
		return Decision{}, false
	},
	sentinel(context.Canceled, terminal("context_canceled")),
	sentinel(context.DeadlineExceeded, transient("context_deadline_exceeded")),
	sentinel(circuitbreaker.ErrCircuitOpen, transient("circuit_open")),
	func(err error) (Decision, bool) {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return transient("net_timeout"), true
		}
		return Decision{}, false
	},
	func(err error) (Decision, bool) {
		var statusErr httpStatusError
		if errors.As(err, &statusErr) {
			return classifyHTTPStatus(statusErr.HTTPStatusCode()), true
		}
		return Decision{}, false
	},
	func(err error) (Decision, bool) {
		var rpcErr jsonRPCError
		if errors.As(err, &rpcErr) {
			return classifyJSONRPCCode(rpcErr.ErrorCode()), true
		}
		return Decision{}, false
	},
	message(terminalMessageTokens, terminal("message_terminal")),
	message(transientMessageTokens, transient("message_transient")),
}

func sentinel(target error, d Decision) rule {
	return func(err error) (Decision, bool) {
		return d, errors.Is(err, target)
	}
}

func message(tokens []string, d Decision) rule {
	return func(err error) (Decision, bool) {
		return d, containsAny(strings.ToLower(err.Error()), tokens)
	}
}

// Classify decides whether err is worth retrying on the next tick or job attempt.
// Anything unrecognised is terminal.
func Classify(err error) Decision {
	if err == nil {
		return terminal("nil_error")
	}
	for _, r := range rules {
		if d, ok := r(err); ok {
			return d
		}
	}
	return terminal("unknown_terminal_default")
}

// IsTransient is shorthand for Classify(err).IsTransient().
func IsTransient(err error) bool {
	return Classify(err).IsTransient()
}

func classifyHTTPStatus(code int) Decision {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return transient("http_throttled")
	case code >= 500:
		return transient("http_server_error")
	}
	return terminal("http_client_error")
}

func classifyJSONRPCCode(code int) Decision {
	switch {
	case code == -32603, code == -32005:
		return transient("jsonrpc_server_transient")
	case code < -32000 && code >= -32099:
		// -32000 itself is geth's generic error (reverts, nonce too low).
		return transient("jsonrpc_server_range")
	}
	return terminal("jsonrpc_terminal")
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"too many requests",
	"rate limit",
	"blockhash not found",
	"server closed idle connection",
}

var terminalMessageTokens = []string{
	"invalid argument",
	"invalid params",
	"method not found",
	"parse error",
	"execution reverted",
	"insufficient funds",
	"nonce too low",
	"replacement transaction underpriced",
	"slippage",
}
