package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMockTracer(t *testing.T) *mocktracer.MockTracer {
	t.Helper()
	prev := opentracing.GlobalTracer()
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(prev) })
	return tracer
}

func TestStartJobSpan(t *testing.T) {
	tracer := withMockTracer(t)

	parent, ctx := StartSpan(context.Background(), "assembler.process")
	span, _ := StartJobSpan(ctx, "encode", "job-1")
	SetTag(span, "frames", 12)
	LogError(span, errors.New("exit status 1"))
	FinishSpan(span)
	FinishSpan(parent)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)

	encode := spans[0]
	assert.Equal(t, "assembler.encode", encode.OperationName)
	assert.Equal(t, "job-1", encode.Tag("job_id"))
	assert.Equal(t, 12, encode.Tag("frames"))
	assert.Equal(t, true, encode.Tag("error"))
	assert.Equal(t, spans[1].SpanContext.SpanID, encode.ParentID)
	require.Len(t, encode.Logs(), 1)
}

func TestNilSpanHelpers(t *testing.T) {
	// Must not panic
	FinishSpan(nil)
	LogError(nil, errors.New("boom"))
	SetTag(nil, "k", "v")
}
