package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "settlement-test", SampleRatio: 0.1})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))

	_, span := StartSpan(context.Background(), "rebalance.verify")
	assert.False(t, span.SpanContext().IsValid())
	End(span, nil)
}

func TestConfigRatio(t *testing.T) {
	assert.Equal(t, 1.0, Config{}.ratio())
	assert.Equal(t, 1.0, Config{SampleRatio: 3}.ratio())
	assert.Equal(t, 0.25, Config{SampleRatio: 0.25}.ratio())
}

func TestStartSpan_RecordsStatusAndAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := newProvider(resource.Empty(), sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "rebalance.swap", attribute.String("rebalancing_id", "abc"))
	End(span, errors.New("quote rejected"))
	_, span = StartSpan(context.Background(), "transfer.send")
	End(span, nil)

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	failed := ended[0]
	assert.Equal(t, "rebalance.swap", failed.Name())
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "quote rejected", failed.Status().Description)
	assert.Contains(t, failed.Attributes(), attribute.String("rebalancing_id", "abc"))
	require.Len(t, failed.Events(), 1)
	assert.Equal(t, "exception", failed.Events()[0].Name)

	assert.Equal(t, codes.Ok, ended[1].Status().Code)
}
