package server

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

var _ types.HTTPRouter = (*Router)(nil)

// Router is a static-path router. The API has no path parameters, so a
// method+path map is all the lookup needs.
type Router struct {
	routes map[string]*types.RouteDefinition
	mu     sync.RWMutex
}

func NewRouter() *Router {
	return &Router{
		routes: make(map[string]*types.RouteDefinition),
	}
}

func (r *Router) Add(method, path string, handler fasthttp.RequestHandler, config *types.RouteConfig) {
	if config == nil {
		config = &types.RouteConfig{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes[routeKey(method, path)] = &types.RouteDefinition{
		Method:  method,
		Path:    normalizePath(path),
		Handler: handler,
		Config:  config,
	}
}

func (r *Router) GET(path string, handler fasthttp.RequestHandler) types.RouteBuilder {
	return r.route(fasthttp.MethodGet, path, handler)
}

func (r *Router) POST(path string, handler fasthttp.RequestHandler) types.RouteBuilder {
	return r.route(fasthttp.MethodPost, path, handler)
}

func (r *Router) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{router: r, prefix: normalizePath(prefix)}
}

// Routes lists registered routes ordered by path, then method.
func (r *Router) Routes() []types.RouteDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.RouteDefinition, 0, len(r.routes))
	for _, def := range r.routes {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})

	return out
}

// lookup returns the route for method and path. allowed reports whether the
// path exists under another method.
func (r *Router) lookup(method, path []byte) (def *types.RouteDefinition, allowed []string) {
	p := normalizePath(string(path))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if def, ok := r.routes[routeKey(string(method), p)]; ok {
		return def, nil
	}

	for _, d := range r.routes {
		if d.Path == p {
			allowed = append(allowed, d.Method)
		}
	}
	sort.Strings(allowed)

	return nil, allowed
}

func (r *Router) route(method, path string, handler fasthttp.RequestHandler) types.RouteBuilder {
	config := &types.RouteConfig{}
	r.Add(method, path, handler, config)
	return &RouteBuilder{config: config}
}

func routeKey(method, path string) string {
	return method + " " + normalizePath(path)
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// RouteBuilder tunes a registered route in place.
type RouteBuilder struct {
	config *types.RouteConfig
}

func (rb *RouteBuilder) WithMiddlewares(names ...string) types.RouteBuilder {
	rb.config.Middlewares = append(rb.config.Middlewares, names...)
	return rb
}

func (rb *RouteBuilder) WithoutMiddlewares(names ...string) types.RouteBuilder {
	rb.config.DisabledMiddlewares = append(rb.config.DisabledMiddlewares, names...)
	return rb
}

func (rb *RouteBuilder) WithTimeout(duration time.Duration) types.RouteBuilder {
	rb.config.Timeout = duration
	return rb
}

type GroupBuilder struct {
	router *Router
	prefix string
}

func (g *GroupBuilder) GET(path string, handler fasthttp.RequestHandler) types.RouteBuilder {
	return g.router.GET(g.join(path), handler)
}

func (g *GroupBuilder) POST(path string, handler fasthttp.RequestHandler) types.RouteBuilder {
	return g.router.POST(g.join(path), handler)
}

func (g *GroupBuilder) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{router: g.router, prefix: g.join(prefix)}
}

func (g *GroupBuilder) join(path string) string {
	if g.prefix == "/" {
		return normalizePath(path)
	}
	return g.prefix + normalizePath(path)
}
