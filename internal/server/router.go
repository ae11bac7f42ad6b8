package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/trunkwatch/internal/auth"
	"github.com/loykin/trunkwatch/internal/coordinator"
	"github.com/loykin/trunkwatch/internal/supervisor"
	"github.com/loykin/trunkwatch/internal/telemetry"
)

const defaultCommandTimeout = 30 * time.Second

// Backend is what the API needs from the coordinator.
type Backend interface {
	Snapshot() coordinator.StatusSnapshot
	LatestFrame() (telemetry.Frame, bool)
	Submit(cmd supervisor.Command) error
	Execute(ctx context.Context, cmd supervisor.Command) error
	KillOrphans(ctx context.Context) ([]int, error)
}

// Router provides embeddable HTTP handlers for the decoder.
// Endpoints:
//
//	GET  {basePath}/status            StatusSnapshot
//	GET  {basePath}/frame             latest frame, 404 before the first one
//	POST {basePath}/commands/:name    query: wait=false (queue only), timeout=30s
//	POST {basePath}/orphans/kill      terminate stray decoder processes
//
// POST endpoints require a bearer token with decoder write permission when
// auth is enabled. basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	b        Backend
	basePath string
	auth     *auth.Middleware
	log      *slog.Logger
}

type Option func(*Router)

func WithAuth(m *auth.Middleware) Option { return func(r *Router) { r.auth = m } }

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.log = l } }

func NewRouter(b Backend, basePath string, opts ...Option) *Router {
	r := &Router{b: b, basePath: sanitizeBase(basePath), auth: auth.NewMiddleware(nil), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("component", "api")
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/frame", r.handleFrame)

	write := group.Group("", r.auth.GinAuth(), r.auth.GinRequirePermission("decoder", "write"))
	write.POST("/commands/:name", r.handleCommand)
	write.POST("/orphans/kill", r.handleKillOrphans)
	return g
}

// NewServer binds addr and serves the router in the background.
func NewServer(addr string, h http.Handler) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// commands wait for stop/start, bounded by their own timeout
		WriteTimeout: 2 * defaultCommandTimeout,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type commandResp struct {
	OK      bool             `json:"ok"`
	Command string           `json:"command"`
	Queued  bool             `json:"queued,omitempty"`
	State   supervisor.State `json:"state"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.b.Snapshot())
}

func (r *Router) handleFrame(c *gin.Context) {
	f, ok := r.b.LatestFrame()
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no frame received yet"})
		return
	}
	writeJSON(c, http.StatusOK, f)
}

func (r *Router) handleCommand(c *gin.Context) {
	cmd, err := supervisor.ParseCommand(c.Param("name"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if c.Query("wait") == "false" {
		if err := r.b.Submit(cmd); err != nil {
			writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusAccepted, commandResp{OK: true, Command: cmd.String(), Queued: true, State: r.b.Snapshot().ProcessState})
		return
	}

	timeout := defaultCommandTimeout
	if s := c.Query("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid timeout: " + s})
			return
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	if err := r.b.Execute(ctx, cmd); err != nil {
		r.log.Warn("command failed", "command", cmd.String(), "error", err)
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, commandResp{OK: true, Command: cmd.String(), State: r.b.Snapshot().ProcessState})
}

func (r *Router) handleKillOrphans(c *gin.Context) {
	killed, err := r.b.KillOrphans(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if killed == nil {
		killed = []int{}
	}
	writeJSON(c, http.StatusOK, gin.H{"killed": killed})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrRestartBudgetExhausted):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrCommandQueueFull),
		errors.Is(err, coordinator.ErrNotStarted),
		errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, supervisor.ErrProcessLaunch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
