// Package middleware provides HTTP middleware for cross-cutting concerns
// around the market API.
package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MarketAttributes enriches the request span started by otelgin with the
// market identifiers carried in route parameters. otelgin already records
// the route, status and standard HTTP attributes, so this adds only what is
// specific to the market API: the session date and the entity id being
// operated on.
func MarketAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if date := c.Param("date"); date != "" {
				span.SetAttributes(attribute.String("market.session_date", date))
			}
			if id := c.Param("id"); id != "" {
				span.SetAttributes(attribute.String("market.entity_id", id))
			}
		}
		c.Next()
	}
}
