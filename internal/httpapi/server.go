// Package httpapi runs the gin server: the admin control plane under the
// /__ prefix and a catch-all that feeds every other request into the
// engine's mode pipeline.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egehanasal/apidouble/internal/config"
	"github.com/egehanasal/apidouble/internal/domain/record"
	"github.com/egehanasal/apidouble/internal/engine"
	"github.com/egehanasal/apidouble/internal/httpapi/middleware"
)

const adminPrefix = "/__"

// maxBodyBytes caps buffered request bodies.
const maxBodyBytes = 10 << 20

// headers never copied verbatim onto the wire; content is decoded and
// re-buffered, so the originals would lie
var hopByHopHeaders = map[string]struct{}{
	"transfer-encoding": {},
	"content-encoding":  {},
	"content-length":    {},
	"connection":        {},
}

// Server owns the gin router and the http.Server lifecycle.
type Server struct {
	log    *zap.Logger
	cfg    config.Config
	eng    *engine.Engine
	router *gin.Engine
}

// NewServer builds the router. Call Run to serve.
func NewServer(cfg config.Config, eng *engine.Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(gin.Recovery())

	if cfg.CORSEnabled() {
		r.Use(cors.New(corsConfig(cfg.CORS.Origins)))
	}

	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log, func() string { return string(eng.Mode()) }))

	s := &Server{log: log, cfg: cfg, eng: eng, router: r}

	a := &admin{log: log, eng: eng, port: cfg.Server.Port, startedAt: time.Now()}
	a.register(r)
	r.GET("/__admin", secure.New(secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	}), a.dashboard)

	r.NoRoute(s.dispatch)
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour, // cache preflight
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// dispatch feeds a non-admin request through the engine pipeline.
func (s *Server) dispatch(c *gin.Context) {
	// unknown /__ paths answer here so the admin prefix never reaches
	// chaos or the mode pipeline
	if strings.HasPrefix(c.Request.URL.Path, adminPrefix) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found", "message": "unknown admin endpoint"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(err)
		status := http.StatusBadRequest
		if errors.As(err, new(*http.MaxBytesError)) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"message": err.Error()})
		return
	}

	req := record.FromHTTPRequest(c.Request, body)
	resp, err := s.eng.Handle(c.Request.Context(), req)
	if err != nil {
		// client went away mid-pipeline; nothing to write
		_ = c.Error(err)
		c.Abort()
		return
	}
	writeRecord(c, resp)
}

// writeRecord emits a ResponseRecord: recorded status, headers minus
// hop-by-hop, body re-serialized.
func writeRecord(c *gin.Context, resp record.ResponseRecord) {
	contentType := ""
	for key, value := range resp.Headers {
		lower := strings.ToLower(key)
		if _, skip := hopByHopHeaders[lower]; skip {
			continue
		}
		if lower == "content-type" {
			contentType = value
			continue
		}
		c.Header(key, value)
	}

	data, err := resp.Body.Bytes()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to serialize response body"})
		return
	}
	if data == nil {
		c.Status(resp.Status)
		return
	}

	if contentType == "" {
		if resp.Body.IsJSON() {
			contentType = "application/json; charset=utf-8"
		} else {
			contentType = "text/plain; charset=utf-8"
		}
	}
	c.Data(resp.Status, contentType, data)
}

// Run serves until ctx is cancelled, then shuts down gracefully, waiting
// for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	httpserver := &http.Server{
		Addr:    addr,
		Handler: s.router,

		// No WriteTimeout: chaos latency and slow upstreams legitimately
		// hold responses open.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 15, // 32 KB

		ErrorLog: zap.NewStdLog(s.log.WithOptions(zap.AddCallerSkip(1))),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpserver.ListenAndServe()
	}()
	s.log.Info("running HTTP server", zap.String("addr", addr), zap.String("mode", string(s.eng.Mode())))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.log.Info("shutting down, waiting for in-flight requests")
		return httpserver.Shutdown(shutdownCtx)
	}
}
