package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/gateway"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/observability"
	"github.com/Lezhik/SpringTwin/internal/project"
	"github.com/Lezhik/SpringTwin/internal/query"
)

func (s *Server) listProjects(c *gin.Context) {
	ps, err := s.opts.Projects.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": ps})
}

func (s *Server) bindProject(c *gin.Context) (project.Request, bool) {
	var req project.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, apperr.InvalidArgumentf("project body: %v", err))
		return req, false
	}
	return req, true
}

func (s *Server) createProject(c *gin.Context) {
	req, ok := s.bindProject(c)
	if !ok {
		return
	}
	p, err := s.opts.Projects.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.opts.Audit.LogProject(c.Request.Context(), observability.AuditEventProjectCreate, p.ID, c.GetString(callerKey))
	c.JSON(http.StatusCreated, p)
}

// projectView is a project with its graph and job state.
type projectView struct {
	*project.Project
	GraphVersion int64     `json:"graph_version,omitempty"`
	ActiveJob    *jobs.Job `json:"active_job,omitempty"`
}

func (s *Server) getProject(c *gin.Context) {
	p, err := s.opts.Projects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	view := projectView{Project: p}
	if s.opts.Store != nil {
		if snap, ok := s.opts.Store.Current(p.ID); ok {
			view.GraphVersion = snap.Version
		}
	}
	if job, ok := s.opts.Jobs.Active(p.ID); ok {
		view.ActiveJob = job
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) updateProject(c *gin.Context) {
	req, ok := s.bindProject(c)
	if !ok {
		return
	}
	p, err := s.opts.Projects.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.opts.Audit.LogProject(c.Request.Context(), observability.AuditEventProjectUpdate, p.ID, c.GetString(callerKey))
	c.JSON(http.StatusOK, p)
}

func (s *Server) deleteProject(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if job, ok := s.opts.Jobs.Active(id); ok {
		s.fail(c, fmt.Errorf("%w: project %s has active job %s", apperr.ErrConflict, id, job.ID))
		return
	}
	if err := s.opts.Projects.Delete(ctx, id); err != nil {
		s.fail(c, err)
		return
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.Drop(ctx, id); err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			s.fail(c, err)
			return
		}
	}
	s.opts.Audit.LogProject(ctx, observability.AuditEventProjectDelete, id, c.GetString(callerKey))
	c.Status(http.StatusNoContent)
}

// analysisRequest optionally overrides a project's package filters.
type analysisRequest struct {
	IncludePackages []string `json:"include_packages"`
	ExcludePackages []string `json:"exclude_packages"`
	Timeout         string   `json:"timeout"` // Go duration, empty for the default
}

func (s *Server) triggerAnalysis(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := s.opts.Projects.Get(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var body analysisRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			s.fail(c, apperr.InvalidArgumentf("analysis body: %v", err))
			return
		}
	}
	req := jobs.Request{ProjectID: p.ID, Root: p.Path, Include: p.IncludePackages, Exclude: p.ExcludePackages}
	if body.IncludePackages != nil {
		req.Include = body.IncludePackages
	}
	if body.ExcludePackages != nil {
		req.Exclude = body.ExcludePackages
	}
	if body.Timeout != "" {
		d, err := time.ParseDuration(body.Timeout)
		if err != nil || d <= 0 {
			s.fail(c, apperr.InvalidArgumentf("timeout %q is not a positive duration", body.Timeout))
			return
		}
		req.Timeout = d
	}

	job, err := s.opts.Jobs.Trigger(ctx, req)
	jobID := ""
	if job != nil {
		jobID = job.ID
	}
	s.opts.Audit.LogJobTrigger(ctx, p.ID, jobID, c.GetString(callerKey), err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Location", "/api/jobs/"+job.ID)
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.opts.Jobs.List(c.Param("id"))})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.opts.Jobs.Status(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.opts.Jobs.Cancel(c.Param("id"))
	s.opts.Audit.LogJobCancel(c.Request.Context(), c.Param("id"), c.GetString(callerKey), err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) listClasses(c *gin.Context) {
	out, err := s.opts.Query.ListClasses(c.Request.Context(), query.ClassFilter{
		ProjectID: c.Param("id"),
		Package:   c.Query("package"),
		Label:     c.Query("label"),
		Name:      c.Query("name"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listMethods(c *gin.Context) {
	out, err := s.opts.Query.ListMethods(c.Request.Context(), query.MethodFilter{
		ProjectID: c.Param("id"),
		Package:   c.Query("package"),
		ClassID:   c.Query("class_id"),
		Name:      c.Query("name"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listEndpoints(c *gin.Context) {
	out, err := s.opts.Query.ListEndpoints(c.Request.Context(), query.EndpointFilter{
		ProjectID:  c.Param("id"),
		Package:    c.Query("package"),
		HTTPMethod: c.Query("http_method"),
		PathPrefix: c.Query("path_prefix"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func maxDepth(c *gin.Context) (int, error) {
	raw := c.Query("max_depth")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.InvalidArgumentf("max_depth %q is not an integer", raw)
	}
	return n, nil
}

func (s *Server) dependencyReport(c *gin.Context) {
	depth, err := maxDepth(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	out, err := s.opts.Query.DependencyReport(c.Request.Context(), query.DependencyRequest{
		ProjectID: c.Param("id"),
		ClassID:   c.Param("classId"),
		MaxDepth:  depth,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) report(c *gin.Context) {
	depth, err := maxDepth(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	out, err := s.opts.Query.Render(c.Request.Context(), query.ReportRequest{
		ProjectID:  c.Param("id"),
		Kind:       c.Param("kind"),
		Format:     c.Query("format"),
		ClassID:    c.Query("class_id"),
		MethodID:   c.Query("method_id"),
		EndpointID: c.Query("endpoint_id"),
		Package:    c.Query("package"),
		MaxDepth:   depth,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	cache := "miss"
	if out.Cached {
		cache = "hit"
	}
	c.Header("X-Graph-Version", strconv.FormatInt(out.Version, 10))
	c.Header("X-Cache", cache)
	c.Data(http.StatusOK, out.ContentType, out.Body)
}

func (s *Server) listTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.opts.Gateway.Manifest(s.callCtx(c))})
}

func (s *Server) callTool(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		s.fail(c, apperr.InvalidArgumentf("read tool arguments: %v", err))
		return
	}
	res := s.opts.Gateway.Call(s.callCtx(c), c.Param("name"), json.RawMessage(raw))
	status := http.StatusOK
	switch {
	case res.OK():
	case res.Code == gateway.CodeUnknownTool:
		status = http.StatusNotFound
	default:
		status = StatusOf(res.Error.Kind)
	}
	c.JSON(status, res)
}

func (s *Server) events(c *gin.Context) {
	client := s.opts.Hub.Register(c.Query("project"))
	defer s.opts.Hub.Unregister(client)
	if err := client.Serve(c.Writer, c.Request, s.opts.KeepAlive); err != nil {
		s.fail(c, err)
	}
}
