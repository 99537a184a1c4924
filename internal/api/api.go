// Package api serves the project registry, job control, queries, reports,
// the tool gateway and job events over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/gateway"
	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/observability"
	"github.com/Lezhik/SpringTwin/internal/project"
	"github.com/Lezhik/SpringTwin/internal/query"
)

// DefaultKeepAlive is the SSE ping interval.
const DefaultKeepAlive = 30 * time.Second

// Options wires the handlers to their backends. Projects, Jobs, Query and
// Gateway are required.
type Options struct {
	Projects *project.Service
	Jobs     *jobs.Coordinator
	Query    *query.Service
	Gateway  *gateway.Gateway
	Store    *graph.Store // graphs dropped with their project
	Hub      *Hub

	Health  http.Handler // mounted at /health, /ready and /live
	Metrics http.Handler // mounted at /metrics
	Audit   *observability.AuditLogger

	// PrivilegedToken, when set, must be presented as a bearer token to
	// trigger or cancel jobs and to call write tools. When empty no caller
	// is privileged unless AllowAnonymousWrite is set.
	PrivilegedToken     string
	AllowAnonymousWrite bool
	ServiceName     string
	KeepAlive       time.Duration
	Logger          *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	opts   Options
	engine *gin.Engine
	logger *slog.Logger
}

// NewServer builds the gin engine and registers every route.
func NewServer(opts Options) (*Server, error) {
	if opts.Projects == nil || opts.Jobs == nil || opts.Query == nil || opts.Gateway == nil {
		return nil, apperr.Configurationf("api server requires projects, jobs, query and gateway")
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "springtwin"
	}
	s := &Server{opts: opts, logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(opts.ServiceName), s.requestLogger(), s.identify())
	s.routes(r)
	s.engine = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub returns the event hub the server streams from.
func (s *Server) Hub() *Hub { return s.opts.Hub }

func (s *Server) routes(r *gin.Engine) {
	if s.opts.Health != nil {
		h := gin.WrapH(s.opts.Health)
		r.GET("/health", h)
		r.GET("/ready", h)
		r.GET("/live", h)
	}
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	api := r.Group("/api")
	api.GET("/projects", s.listProjects)
	api.POST("/projects", s.createProject)
	api.GET("/projects/:id", s.getProject)
	api.PUT("/projects/:id", s.updateProject)
	api.DELETE("/projects/:id", s.requireWrite(), s.deleteProject)

	api.POST("/projects/:id/analyses", s.requireWrite(), s.triggerAnalysis)
	api.GET("/projects/:id/jobs", s.listJobs)
	api.GET("/jobs/:id", s.getJob)
	api.POST("/jobs/:id/cancel", s.requireWrite(), s.cancelJob)

	api.GET("/projects/:id/classes", s.listClasses)
	api.GET("/projects/:id/classes/:classId/dependencies", s.dependencyReport)
	api.GET("/projects/:id/methods", s.listMethods)
	api.GET("/projects/:id/endpoints", s.listEndpoints)
	api.GET("/projects/:id/reports/:kind", s.report)

	api.GET("/tools", s.listTools)
	api.POST("/tools/:name", s.callTool)

	api.GET("/events", s.events)
}

const (
	privilegedKey = "springtwin.privileged"
	callerKey     = "springtwin.caller"
)

// identify records whether the caller presented the privileged token.
func (s *Server) identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		privileged := s.opts.AllowAnonymousWrite
		if !privileged && s.opts.PrivilegedToken != "" {
			token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
			privileged = ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.PrivilegedToken)) == 1
		}
		c.Set(privilegedKey, privileged)
		caller := c.GetHeader("X-Caller")
		if caller == "" {
			caller = c.ClientIP()
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func (s *Server) requireWrite() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(privilegedKey) {
			s.fail(c, apperr.ErrPermission)
			c.Abort()
			return
		}
		c.Next()
	}
}

// callCtx returns the request context, carrying the write capability for
// privileged callers.
func (s *Server) callCtx(c *gin.Context) context.Context {
	ctx := gateway.WithCaller(c.Request.Context(), c.GetString(callerKey))
	if c.GetBool(privilegedKey) {
		ctx = gateway.WithCapabilities(ctx, gateway.CapabilityWrite)
	}
	return ctx
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

// StatusOf maps an error kind to an HTTP status.
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindConfiguration, apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindPermission:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindGraphIntegrity, apperr.KindExtraction:
		return http.StatusUnprocessableEntity
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error *apperr.Detail `json:"error"`
}

func (s *Server) fail(c *gin.Context, err error) {
	d := apperr.DetailOf(err)
	if errors.Is(err, apperr.ErrPermission) && d.Message == apperr.ErrPermission.Error() {
		d.Message = "a privileged token is required"
	}
	status := StatusOf(d.Kind)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, errorBody{Error: d})
}
