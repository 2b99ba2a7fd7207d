package tracing

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

const (
	SpanTagUserID    = "user-id"
	SpanTagEntityID  = "entity-id"
	SpanTagComponent = "component"
)

const (
	SpanTagComponentRepository = "repository"
	SpanTagComponentRest       = "rest"
	SpanTagComponentCronJob    = "cronJob"
	SpanTagComponentService    = "service"
	SpanTagComponentSMTP       = "smtp"
)

// TracingEnhancer starts a server span per request, continuing any trace in the headers
func TracingEnhancer() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := StartHttpServerTracerSpanWithHeader(c.Request.Context(), c.Request.Method+" "+c.FullPath(), c.Request.Header)
		defer span.Finish()
		TagComponentRest(span)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		ext.HTTPStatusCode.Set(span, uint16(c.Writer.Status()))
		if c.Writer.Status() >= http.StatusInternalServerError {
			ext.Error.Set(span, true)
		}
	}
}

func StartHttpServerTracerSpanWithHeader(ctx context.Context, operationName string, headers http.Header) (context.Context, opentracing.Span) {
	spanCtx, err := opentracing.GlobalTracer().Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers))
	if err != nil {
		serverSpan := opentracing.GlobalTracer().StartSpan(operationName)
		return opentracing.ContextWithSpan(ctx, serverSpan), serverSpan
	}
	serverSpan := opentracing.GlobalTracer().StartSpan(operationName, ext.RPCServerOption(spanCtx))
	return opentracing.ContextWithSpan(ctx, serverSpan), serverSpan
}

func TraceErr(span opentracing.Span, err error, fields ...log.Field) {
	if span == nil || err == nil {
		return
	}
	ext.LogError(span, err, fields...)
}

func TagUser(span opentracing.Span, userID string) {
	if userID != "" {
		span.SetTag(SpanTagUserID, userID)
	}
}

func TagEntity(span opentracing.Span, entityID string) {
	if entityID != "" {
		span.SetTag(SpanTagEntityID, entityID)
	}
}

func TagComponentRepository(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentRepository)
}

func TagComponentRest(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentRest)
}

func TagComponentCronJob(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentCronJob)
}

func TagComponentService(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentService)
}

func TagComponentSMTP(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentSMTP)
}
