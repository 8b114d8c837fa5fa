package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/redeployr/internal/lock"
	"github.com/loykin/redeployr/internal/metrics"
	"github.com/loykin/redeployr/internal/supervisor"
)

// Router provides embeddable HTTP handlers around one supervisor.
// Endpoints:
//   GET  {basePath}/status     current worker state
//   GET  {basePath}/history    recent deploy events, query: limit=N
//   POST {basePath}/redeploy   stop, update, start, confirm; query: update=true
//   POST {basePath}/stop       stop the worker and clear its record
//   POST {basePath}/start      start without stopping or updating first
//   GET  /healthz              agent liveness, always at the root
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/redeploy, /abc/status, ...
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", r.handleHealthz)
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/history", r.handleHistory)
	group.POST("/redeploy", r.handleRedeploy)
	group.POST("/stop", r.handleStop)
	group.POST("/start", r.handleStart)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call Close or Shutdown on the returned server to stop it.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// NewMetricsServer starts a standalone /metrics server on addr using the
// default prometheus registry.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// runResp reports one run. The report is included on failure too; a deploy
// that failed in its third phase still has two phases worth of audit data.
type runResp struct {
	OK     bool               `json:"ok"`
	Error  string             `json:"error,omitempty"`
	Report *supervisor.Report `json:"report,omitempty"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status(c.Request.Context()))
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 20
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit: " + q})
			return
		}
		limit = n
	}
	events, err := r.sup.History(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleRedeploy(c *gin.Context) {
	var opts supervisor.RedeployOptions
	if q := c.Query("update"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid update param: " + q})
			return
		}
		opts.Update = v
	}
	// Runs use a background context; a deploy must not die with the
	// connection that triggered it.
	rep, err := r.sup.Redeploy(context.Background(), opts)
	writeRun(c, rep, err)
}

func (r *Router) handleStop(c *gin.Context) {
	rep, err := r.sup.Stop(context.Background())
	writeRun(c, rep, err)
}

func (r *Router) handleStart(c *gin.Context) {
	rep, err := r.sup.Start(context.Background())
	writeRun(c, rep, err)
}

func writeRun(c *gin.Context, rep *supervisor.Report, err error) {
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, lock.ErrBusy) || errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusConflict
		}
		writeJSON(c, code, runResp{OK: false, Error: err.Error(), Report: rep})
		return
	}
	writeJSON(c, http.StatusOK, runResp{OK: true, Report: rep})
}
