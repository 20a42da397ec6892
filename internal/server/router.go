package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/tidwatch/internal/metrics"
	"github.com/loykin/tidwatch/internal/process"
	"github.com/loykin/tidwatch/internal/supervisor"
)

// Target is the supervised server as seen by the control endpoint.
type Target interface {
	Status() process.Status
	Restart() error
	URL() string
}

// Router provides embeddable HTTP handlers for the supervised server.
// Endpoints:
//
//	GET  {basePath}/status   current child status
//	POST {basePath}/restart  stop then start the child
//	GET  {basePath}/metrics  prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	target   Target
	basePath string
}

// NewRouter constructs a Router mounted under basePath.
func NewRouter(target Target, basePath string) *Router {
	return &Router{target: target, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/restart", r.handleRestart)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer builds an http.Server for the router. The caller owns
// Serve/ListenAndServe and Close.
func NewServer(addr, basePath string, target Target) *http.Server {
	r := NewRouter(target, basePath)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// restart can take stop timeout + settle + start grace
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type statusResp struct {
	process.Status
	URL string `json:"url"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{Status: r.target.Status(), URL: r.target.URL()})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.target.Restart(); err != nil {
		if errors.Is(err, supervisor.ErrClosed) {
			writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, statusResp{Status: r.target.Status(), URL: r.target.URL()})
}
