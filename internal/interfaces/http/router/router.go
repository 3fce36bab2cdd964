// Package router mounts the control API under a shared base path so
// the server and the integration tests build the same route table.
package router

import (
	"github.com/gin-gonic/gin"
)

// Routes registers one handler's endpoints on the API group.
type Routes func(*gin.RouterGroup)

// Router collects middleware and route registrations and mounts them
// under the base path in one step.
type Router struct {
	engine   *gin.Engine
	basePath string
	mw       []gin.HandlerFunc
	mounts   []Routes
}

type Option func(*Router)

// WithBasePath overrides the default "/api" prefix.
func WithBasePath(path string) Option {
	return func(r *Router) {
		r.basePath = path
	}
}

func New(engine *gin.Engine, opts ...Option) *Router {
	r := &Router{engine: engine, basePath: "/api"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Use adds middleware that applies to the API group only, not to
// routes registered directly on the engine (the health probe).
func (r *Router) Use(mw ...gin.HandlerFunc) *Router {
	r.mw = append(r.mw, mw...)
	return r
}

func (r *Router) Mount(routes ...Routes) *Router {
	r.mounts = append(r.mounts, routes...)
	return r
}

// Setup builds the group and registers everything mounted so far.
func (r *Router) Setup() *gin.RouterGroup {
	api := r.engine.Group(r.basePath)
	api.Use(r.mw...)
	for _, mount := range r.mounts {
		mount(api)
	}
	return api
}
