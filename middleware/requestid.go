package middleware

import (
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestIDMiddleware makes sure every request carries an X-Request-ID and
// echoes it on the response.
type RequestIDMiddleware struct{}

func NewRequestIDMiddleware() *RequestIDMiddleware {
	return &RequestIDMiddleware{}
}

func (m *RequestIDMiddleware) Name() string { return "request-id" }
func (m *RequestIDMiddleware) Weight() int  { return 15 }

func (m *RequestIDMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, _ *types.RouteConfig) {
	id := string(ctx.Request.Header.Peek(RequestIDHeader))
	if id == "" {
		id = uuid.NewString()
		ctx.Request.Header.Set(RequestIDHeader, id)
	}

	ctx.SetUserValue(requestIDKey, id)
	ctx.Response.Header.Set(RequestIDHeader, id)

	next(ctx)
}

// RequestID returns the id assigned to ctx, if any.
func RequestID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue(requestIDKey).(string)
	return id
}
