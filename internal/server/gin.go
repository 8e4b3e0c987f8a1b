package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sevir/vigia/internal/clock"
	"github.com/sevir/vigia/internal/liveness"
	"github.com/sevir/vigia/internal/registry"
	"github.com/sevir/vigia/pkg/models"
)

const (
	maxDocumentBytes  = 8 << 20
	minStreamInterval = 50 * time.Millisecond
)

func (s *Server) newGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = maxDocumentBytes

	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/ui")
	})

	// UI.
	r.GET("/ui", s.handleUIIndex)
	r.GET("/ui/", s.handleUIIndex)
	r.GET("/ui/partials/agents", s.handleUIAgents)
	r.POST("/ui/agents/:name/start", s.handleUIStart)
	r.POST("/ui/agents/:name/stop", s.handleUIStop)
	r.POST("/ui/agents/:name/tasks", s.handleUISubmit)

	api := r.Group("/api")
	{
		api.GET("/version", s.handleAPIVersion)
		api.GET("/task-types", s.handleAPITaskTypes)
		api.GET("/agents", s.handleAPIAgentsList)
		api.GET("/agents/stream", s.handleAPIStream)
		api.GET("/agents/:name", s.handleAPIAgentGet)
		api.GET("/agents/:name/logs", s.handleAPIAgentLogs)
		api.POST("/agents/:name/start", s.handleAPIAgentStart)
		api.POST("/agents/:name/stop", s.handleAPIAgentStop)
		api.POST("/agents/:name/tasks", s.handleAPIAgentSubmit)
	}

	return r
}

// agentView is a snapshot decorated with its liveness classification.
type agentView struct {
	models.AgentSnapshot
	Liveness       models.Liveness `json:"liveness"`
	Indicator      string          `json:"indicator"`
	HeartbeatAgeMs *int64          `json:"heartbeat_age_ms,omitempty"`
}

func newAgentView(snap models.AgentSnapshot, now time.Time) agentView {
	v := agentView{
		AgentSnapshot: snap,
		Liveness:      liveness.ClassifySnapshot(snap, now),
	}
	v.Indicator = liveness.Indicator(v.Liveness)
	if snap.LastHeartbeat != nil {
		ms := clock.Age(*snap.LastHeartbeat, now).Milliseconds()
		v.HeartbeatAgeMs = &ms
	}
	return v
}

func (s *Server) agentViews() []agentView {
	now := time.Now()
	snaps := s.registry.Snapshots()
	views := make([]agentView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, newAgentView(snap, now))
	}
	return views
}

func (s *Server) handleAPIVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.version,
		"commit":  s.commit,
	})
}

func (s *Server) handleAPITaskTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"task_types": s.registry.TaskTypes()})
}

func (s *Server) handleAPIAgentsList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.agentViews()})
}

func (s *Server) handleAPIAgentGet(c *gin.Context) {
	snap, err := s.registry.Snapshot(c.Param("name"))
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": newAgentView(snap, time.Now())})
}

func (s *Server) handleAPIAgentLogs(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = v
	}

	logs, err := s.registry.Logs(c.Param("name"), limit)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": c.Param("name"), "logs": logs})
}

func (s *Server) handleAPIAgentStart(c *gin.Context) {
	s.handleAPILifecycle(c, s.registry.Start)
}

func (s *Server) handleAPIAgentStop(c *gin.Context) {
	s.handleAPILifecycle(c, s.registry.Stop)
}

func (s *Server) handleAPILifecycle(c *gin.Context, op func(string) error) {
	name := c.Param("name")
	if err := op(name); err != nil {
		writeAPIError(c, err)
		return
	}
	snap, _ := s.registry.Snapshot(name)
	c.JSON(http.StatusOK, gin.H{"agent": newAgentView(snap, time.Now())})
}

func (s *Server) handleAPIAgentSubmit(c *gin.Context) {
	taskType, content, err := readSubmission(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.registry.Submit(c.Param("name"), taskType, content)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task": task.ToSummary()})
}

// handleAPIStream pushes a "snapshot" event with every agent view once per
// interval. count bounds the number of events; zero streams until the client
// goes away.
func (s *Server) handleAPIStream(c *gin.Context) {
	interval := s.config.Dashboard.RefreshInterval.Std()
	if raw := strings.TrimSpace(c.Query("interval")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval"})
			return
		}
		interval = d
	}
	if interval < minStreamInterval {
		interval = minStreamInterval
	}

	count := 0
	if raw := strings.TrimSpace(c.Query("count")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
			return
		}
		count = v
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for sent := 1; ; sent++ {
		c.SSEvent("snapshot", gin.H{"agents": s.agentViews()})
		c.Writer.Flush()

		if count > 0 && sent >= count {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readSubmission accepts JSON, urlencoded and multipart bodies. A multipart
// "document" file is submitted as bytes.
func readSubmission(c *gin.Context) (string, models.Content, error) {
	switch c.ContentType() {
	case gin.MIMEMultipartPOSTForm:
		taskType := c.PostForm("task_type")
		if fh, err := c.FormFile("document"); err == nil {
			if fh.Size > maxDocumentBytes {
				return "", models.Content{}, fmt.Errorf("document exceeds %d bytes", maxDocumentBytes)
			}
			f, err := fh.Open()
			if err != nil {
				return "", models.Content{}, fmt.Errorf("failed to open document: %w", err)
			}
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, maxDocumentBytes))
			if err != nil {
				return "", models.Content{}, fmt.Errorf("failed to read document: %w", err)
			}
			return taskType, models.BytesContent(data), nil
		}
		return taskType, models.TextContent(c.PostForm("content")), nil
	case gin.MIMEPOSTForm:
		return c.PostForm("task_type"), models.TextContent(c.PostForm("content")), nil
	default:
		var req models.SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", models.Content{}, err
		}
		return req.TaskType, models.TextContent(req.Content), nil
	}
}

func writeAPIError(c *gin.Context, err error) {
	c.JSON(apiStatus(err), gin.H{"error": err.Error()})
}

func apiStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidSubmission):
		return http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
