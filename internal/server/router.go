package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"esphomed/internal/daemon"
	"esphomed/internal/store"
	"esphomed/internal/updater"
)

// DaemonControl is the daemon surface exposed over the control API.
type DaemonControl interface {
	Start() error
	Stop() error
	Restart() error
	Status() daemon.Status
	Port() int
}

// Router provides embeddable HTTP handlers for the local control API.
// Endpoints:
//
//	GET  {basePath}/status
//	GET  {basePath}/ready           query: timeout=5s (optional)
//	POST {basePath}/start
//	POST {basePath}/stop
//	POST {basePath}/restart
//	POST {basePath}/update/check
//	POST {basePath}/update/apply    body: {"version":"..."} (optional)
//	GET  {basePath}/history/events  query: limit=N (optional)
//	GET  {basePath}/history/updates query: limit=N (optional)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	dmn      DaemonControl
	upd      *updater.Updater
	st       store.Store // nil disables the history endpoints
	basePath string
	log      *slog.Logger
}

func NewRouter(dmn DaemonControl, upd *updater.Updater, st store.Store, basePath string) *Router {
	return &Router{
		dmn:      dmn,
		upd:      upd,
		st:       st,
		basePath: sanitizeBase(basePath),
		log:      slog.Default(),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/ready", r.handleReady)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/update/check", r.handleUpdateCheck)
	group.POST("/update/apply", r.handleUpdateApply)
	group.GET("/history/events", r.handleHistoryEvents)
	group.GET("/history/updates", r.handleHistoryUpdates)
	return g
}

// NewServer starts a standalone control API server on addr. The caller
// shuts it down via http.Server's Shutdown or Close.
func NewServer(addr, basePath string, dmn DaemonControl, upd *updater.Updater, st store.Store) *http.Server {
	r := NewRouter(dmn, upd, st, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// update/apply stops the daemon, installs and restarts
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.dmn.Status())
}

func (r *Router) handleReady(c *gin.Context) {
	timeout := 5 * time.Second
	if q := c.Query("timeout"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid timeout: " + err.Error()})
			return
		}
		timeout = d
	}
	ready := daemon.WaitReady(c.Request.Context(), r.dmn.Port(), timeout)
	writeJSON(c, http.StatusOK, gin.H{"ready": ready})
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.dmn.Start(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.dmn.Stop(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.dmn.Restart(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleUpdateCheck(c *gin.Context) {
	res, err := r.upd.Check(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type applyRequest struct {
	Version string `json:"version"`
}

type applyResponse struct {
	Updated bool   `json:"updated"`
	Version string `json:"version,omitempty"`
	Outcome string `json:"outcome"`
}

func (r *Router) handleUpdateApply(c *gin.Context) {
	var req applyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	version := req.Version
	if version == "" {
		res, err := r.upd.Check(ctx)
		if err != nil {
			writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
			return
		}
		if !res.Available {
			writeJSON(c, http.StatusOK, applyResponse{Updated: false, Version: res.Installed, Outcome: "up_to_date"})
			return
		}
		version = res.Latest
	}

	if err := r.upd.Apply(ctx, version); err != nil {
		r.log.Error("update apply failed", "version", version, "err", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, applyResponse{Updated: true, Version: version, Outcome: "ok"})
}

func (r *Router) handleHistoryEvents(c *gin.Context) {
	if r.st == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "event store disabled"})
		return
	}
	events, err := r.st.RecentEvents(c.Request.Context(), historyLimit(c))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleHistoryUpdates(c *gin.Context) {
	if r.st == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "event store disabled"})
		return
	}
	recs, err := r.st.RecentUpdates(c.Request.Context(), historyLimit(c))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []store.UpdateRecord{}
	}
	writeJSON(c, http.StatusOK, recs)
}

func historyLimit(c *gin.Context) int {
	limit := 50
	if q := c.Query("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	return limit
}
