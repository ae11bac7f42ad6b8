package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Fault makes the simulated decoder misbehave so connection degradation can be
// exercised on a bench.
type Fault int32

const (
	FaultNone Fault = iota
	FaultHang
	FaultError
	FaultGarbage
)

var faultNames = [...]string{"none", "hang", "error", "garbage"}

func (f Fault) String() string {
	if f >= 0 && int(f) < len(faultNames) {
		return faultNames[f]
	}
	return fmt.Sprintf("Fault(%d)", int32(f))
}

func ParseFault(s string) (Fault, error) {
	for i, n := range faultNames {
		if strings.EqualFold(n, s) {
			return Fault(i), nil
		}
	}
	return 0, fmt.Errorf("unknown fault %q (want none, hang, error or garbage)", s)
}

// Server answers the decoder endpoints:
//
//	GET  /            json frame protocol
//	POST /            OP25 multi_rx console protocol
//	PUT  /_sim/fault  body or ?mode= one of none, hang, error, garbage
type Server struct {
	traffic *Traffic
	log     *slog.Logger
	fault   atomic.Int32
	polls   atomic.Uint64
	now     func() time.Time

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(traffic *Traffic, log *slog.Logger) *Server {
	if traffic == nil {
		traffic = NewTraffic(1)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{traffic: traffic, log: log.With("component", "simulator"), now: time.Now}
}

func (s *Server) SetFault(f Fault) {
	old := Fault(s.fault.Swap(int32(f)))
	if old != f {
		s.log.Info("fault changed", "from", old.String(), "to", f.String())
	}
}

func (s *Server) Fault() Fault { return Fault(s.fault.Load()) }

// Polls counts requests served on the decoder endpoints.
func (s *Server) Polls() uint64 { return s.polls.Load() }

// Handler returns the echo router; it can be mounted in any mux.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/", s.handleJSON, s.faults)
	e.POST("/", s.handleOP25, s.faults)
	e.PUT("/_sim/fault", s.handleFault)
	e.GET("/_sim/fault", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"fault": s.Fault().String()})
	})
	return e
}

func (s *Server) faults(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.polls.Add(1)
		switch s.Fault() {
		case FaultHang:
			<-c.Request().Context().Done()
			return nil
		case FaultError:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "decoder fault injected"})
		case FaultGarbage:
			return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte(`{"system": `))
		}
		return next(c)
	}
}

func (s *Server) handleJSON(c echo.Context) error {
	return c.JSON(http.StatusOK, jsonPayload(s.traffic.At(s.now())))
}

func (s *Server) handleOP25(c echo.Context) error {
	var cmds []map[string]any
	if err := c.Bind(&cmds); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "want a JSON command array"})
	}
	return c.JSON(http.StatusOK, op25Payload(s.traffic.At(s.now())))
}

func (s *Server) handleFault(c echo.Context) error {
	mode := c.QueryParam("mode")
	if mode == "" {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		mode = body.Mode
	}
	f, err := ParseFault(mode)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	s.SetFault(f)
	return c.JSON(http.StatusOK, map[string]string{"fault": f.String()})
}

// Listen binds addr and serves in the background.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("simulator already listening")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("simulator listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv, s.ln = srv, ln
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("simulator serve failed", "error", err)
		}
	}()
	s.log.Info("simulated decoder listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown drains in-flight requests until ctx ends, then closes connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return err
	}
	return nil
}

// Close stops the server immediately.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}
