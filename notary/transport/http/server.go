// Package http exposes the anchoring pipelines and the status report over a
// JSON HTTP API.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/LumeraProtocol/notary/notary/anchor"
	"github.com/LumeraProtocol/notary/notary/status"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DefaultPort is used when the configured port is 0.
const DefaultPort = 8090

const shutdownTimeout = 10 * time.Second

// Anchorer is the pipeline surface the API serves.
type Anchorer interface {
	Ingest(ctx context.Context, sub *anchor.Submission) anchor.IngestResult
	Verify(ctx context.Context, recordID string) anchor.VerifyResult
}

// StatusReporter produces status reports.
type StatusReporter interface {
	GetStatus(ctx context.Context) *status.Status
}

// Server is the HTTP API server.
type Server struct {
	ipAddress string
	port      int
	maxBody   int64

	anchor Anchorer
	status StatusReporter

	router *gin.Engine
	server *http.Server
}

// NewServer builds the router. maxBodyBytes bounds request bodies; ingest
// bodies carry base64 file data, so it should exceed the ingest size limit.
func NewServer(ipAddress string, port int, maxBodyBytes int64, a Anchorer, st StatusReporter) (*Server, error) {
	if a == nil {
		return nil, fmt.Errorf("anchor service is required")
	}
	if port == 0 {
		port = DefaultPort
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{ipAddress: ipAddress, port: port, maxBody: maxBodyBytes, anchor: a, status: st}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:   []string{"Content-Length", "X-Correlation-ID"},
		MaxAge:          12 * time.Hour,
	}))

	v1 := router.Group("/api/v1")
	v1.POST("/ingest", s.handleIngest)
	v1.POST("/verify", s.handleVerify)
	v1.GET("/records/:id", s.handleGetRecord)
	v1.GET("/status", s.handleStatus)

	s.router = router
	s.server = &http.Server{
		Addr:              net.JoinHostPort(ipAddress, strconv.Itoa(port)),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done or Stop is called, then returns once the
// server has shut down. Run after Stop returns nil without serving.
func (s *Server) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("http api server failed: %w", err)
	}

	logtrace.Info(ctx, "starting HTTP API server", logtrace.Fields{
		logtrace.FieldModule: "transport.http",
		"address":            ln.Addr().String(),
	})
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(ln) }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		shutdownErr := s.Stop(stopCtx)
		if err := <-errCh; err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http api server failed: %w", err)
		}
		return shutdownErr
	}
}

// Stop gracefully shuts the server down. It is safe to call before, during
// or after Run.
func (s *Server) Stop(ctx context.Context) error {
	logtrace.Debug(ctx, "shutting down HTTP API server", nil)
	return s.server.Shutdown(ctx)
}

// requestLogger tags each request with a correlation id and logs its outcome.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := logtrace.CtxWithCorrelationID(c.Request.Context(), id)
		ctx = logtrace.CtxWithOrigin(ctx, "http")
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", id)

		start := time.Now()
		c.Next()

		logtrace.Debug(ctx, "http request", logtrace.Fields{
			logtrace.FieldModule: "transport.http",
			"method":             c.Request.Method,
			"path":               c.FullPath(),
			"status":             c.Writer.Status(),
			"duration_ms":        time.Since(start).Milliseconds(),
		})
	}
}
