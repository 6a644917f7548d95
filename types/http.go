package types

import (
	"time"

	"github.com/valyala/fasthttp"
)

type HTTPRouter interface {
	Add(method, path string, handler fasthttp.RequestHandler, config *RouteConfig)
	GET(path string, handler fasthttp.RequestHandler) RouteBuilder
	POST(path string, handler fasthttp.RequestHandler) RouteBuilder
	Group(prefix string) GroupBuilder
	Routes() []RouteDefinition
}

type RouteBuilder interface {
	WithMiddlewares(names ...string) RouteBuilder
	WithoutMiddlewares(names ...string) RouteBuilder
	WithTimeout(duration time.Duration) RouteBuilder
}

type GroupBuilder interface {
	GET(path string, handler fasthttp.RequestHandler) RouteBuilder
	POST(path string, handler fasthttp.RequestHandler) RouteBuilder
	Group(prefix string) GroupBuilder
}

type RouteConfig struct {
	Middlewares         []string
	DisabledMiddlewares []string
	Timeout             time.Duration
}

type RouteDefinition struct {
	Method  string
	Path    string
	Handler fasthttp.RequestHandler
	Config  *RouteConfig
}
