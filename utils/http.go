package utils

import "github.com/valyala/fasthttp"

func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetContentType("application/json")

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if requestID := string(ctx.Request.Header.Peek("X-Request-ID")); requestID != "" {
		ctx.Response.Header.Set("X-Request-ID", requestID)
	}

	ctx.SetBodyString(`{"error":"internal_error","message":"An unexpected error occurred"}`)
}
