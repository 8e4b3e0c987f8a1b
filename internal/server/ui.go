package server

import (
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sevir/vigia/internal/clock"
	"github.com/sevir/vigia/internal/registry"
	"github.com/sevir/vigia/pkg/models"
	uiassets "github.com/sevir/vigia/ui"
)

type uiAgentRow struct {
	Name          string
	Status        models.AgentStatus
	StatusText    string
	StatusClass   string
	Liveness      models.Liveness
	Indicator     string
	QueueSize     int
	HeartbeatText string
	ProgressPct   int
	CurrentTask   string
	LastOutput    string
	Logs          []string
	Running       bool
}

type uiAgentsVM struct {
	Agents []uiAgentRow
}

type uiIndexVM struct {
	Version   string
	Agents    []string
	TaskTypes []string
	RefreshMs int64
}

func (s *Server) getUITemplates() (*template.Template, error) {
	s.uiOnce.Do(func() {
		s.uiTpl, s.uiTplErr = template.ParseFS(fs.FS(uiassets.FS), "index.html", "partials/*.html")
	})
	return s.uiTpl, s.uiTplErr
}

func (s *Server) renderUI(c *gin.Context, name string, vm interface{}) {
	tpl, err := s.getUITemplates()
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := tpl.ExecuteTemplate(c.Writer, name, vm); err != nil {
		log.Printf("ui_event=render_error template=%s error=%q", name, err.Error())
	}
}

func (s *Server) handleUIIndex(c *gin.Context) {
	version := s.version
	if version == "" {
		version = "dev"
	}
	s.renderUI(c, "index.html", uiIndexVM{
		Version:   version,
		Agents:    s.registry.Agents(),
		TaskTypes: s.registry.TaskTypes(),
		RefreshMs: s.config.Dashboard.RefreshInterval.Std().Milliseconds(),
	})
}

func (s *Server) handleUIAgents(c *gin.Context) {
	views := s.agentViews()
	vm := uiAgentsVM{Agents: make([]uiAgentRow, 0, len(views))}
	for _, v := range views {
		vm.Agents = append(vm.Agents, newUIAgentRow(v))
	}
	s.renderUI(c, "agents.html", vm)
}

func (s *Server) handleUIStart(c *gin.Context) {
	s.handleUIAction(c, s.registry.Start)
}

func (s *Server) handleUIStop(c *gin.Context) {
	s.handleUIAction(c, s.registry.Stop)
}

func (s *Server) handleUIAction(c *gin.Context, op func(string) error) {
	if err := op(c.Param("name")); err != nil {
		c.String(apiStatus(err), err.Error())
		return
	}
	// Return refreshed list fragment.
	s.handleUIAgents(c)
}

// handleUISubmit queues a task from the dashboard form. Invalid submissions
// are dropped without feedback, as the form only ever shows live state.
func (s *Server) handleUISubmit(c *gin.Context) {
	taskType, content, err := readSubmission(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.registry.Submit(c.Param("name"), taskType, content); err != nil && !errors.Is(err, registry.ErrInvalidSubmission) {
		c.String(apiStatus(err), err.Error())
		return
	}
	s.handleUIAgents(c)
}

func newUIAgentRow(v agentView) uiAgentRow {
	row := uiAgentRow{
		Name:          v.Name,
		Status:        v.Status,
		StatusText:    strings.ToUpper(string(v.Status)),
		StatusClass:   statusClass(v.Status),
		Liveness:      v.Liveness,
		Indicator:     v.Indicator,
		QueueSize:     v.QueueSize,
		HeartbeatText: "never",
		ProgressPct:   int(v.Progress*100 + 0.5),
		LastOutput:    truncate(v.LastOutput, 120),
		Logs:          v.Logs,
		Running:       v.IsRunning(),
	}
	if v.LastHeartbeat != nil {
		row.HeartbeatText = clock.Stamp(*v.LastHeartbeat)
		if v.HeartbeatAgeMs != nil {
			row.HeartbeatText += fmt.Sprintf(" (%s ago)", (time.Duration(*v.HeartbeatAgeMs) * time.Millisecond).Round(100*time.Millisecond))
		}
	}
	if v.CurrentTask != nil {
		row.CurrentTask = v.CurrentTask.Type
	}
	return row
}

func statusClass(st models.AgentStatus) string {
	switch st {
	case models.AgentStatusIdle:
		return "st-idle"
	case models.AgentStatusRunning:
		return "st-running"
	case models.AgentStatusStopped:
		return "st-stopped"
	default:
		return ""
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
