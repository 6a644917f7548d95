package server

import (
	"github.com/valyala/fasthttp"

	"github.com/pgcdha001/pgcdha-sub002/types"
	"github.com/pgcdha001/pgcdha-sub002/utils"
)

type Response struct {
	Data interface{} `json:"data"`
	Meta interface{} `json:"meta,omitempty"`
}

// ErrorResponse may carry a degraded payload in Data so a client can still
// render something, e.g. the zero view of a failed custom range.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body interface{}) {
	data, err := utils.Marshal(body)
	if err != nil {
		utils.CreateErrorResponse(ctx)
		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "no-store")
	ctx.SetBody(data)
}

func writeData(ctx *fasthttp.RequestCtx, data, meta interface{}) {
	writeJSON(ctx, fasthttp.StatusOK, Response{Data: data, Meta: meta})
}

func writeError(ctx *fasthttp.RequestCtx, status int, code, message string) {
	writeJSON(ctx, status, ErrorResponse{Error: code, Message: message})
}

// writeFailure maps err onto a status code and error code.
func writeFailure(ctx *fasthttp.RequestCtx, err error, degraded interface{}) {
	status, code := classify(err)
	writeJSON(ctx, status, ErrorResponse{Error: code, Message: err.Error(), Data: degraded})
}

func classify(err error) (int, string) {
	switch {
	case types.IsError(err, types.ErrInvalidFilter),
		types.IsError(err, types.ErrInvalidRange),
		types.IsError(err, types.ErrInvalidLevel),
		types.IsError(err, types.ErrInvalidParameter):
		return fasthttp.StatusBadRequest, "invalid_request"
	case types.IsError(err, types.ErrCustomRange):
		return fasthttp.StatusBadGateway, "custom_range_unavailable"
	case types.IsCanceled(err):
		return fasthttp.StatusConflict, "canceled"
	case types.IsError(err, types.ErrTimeout):
		return fasthttp.StatusGatewayTimeout, "timeout"
	case types.IsError(err, types.ErrNotLoaded), types.IsError(err, types.ErrCircuitBreakerOpen):
		return fasthttp.StatusServiceUnavailable, "unavailable"
	case types.IsError(err, types.ErrHTTP), types.IsError(err, types.ErrClientRequestFailed),
		types.IsError(err, types.ErrClientResponseInvalid):
		return fasthttp.StatusBadGateway, "backend_error"
	}
	return fasthttp.StatusInternalServerError, "internal_error"
}
