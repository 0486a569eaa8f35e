package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tasktracker/internal/model"
	"tasktracker/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

type taskResponse struct {
	ID        uint           `json:"id"`
	Name      string         `json:"name"`
	Priority  model.Priority `json:"priority"`
	DateAdded string         `json:"date_added"`
}

func toTaskResponse(t model.Task) taskResponse {
	return taskResponse{
		ID:        t.ID,
		Name:      t.Name,
		Priority:  t.Priority,
		DateAdded: t.DateAdded.UTC().Format(time.RFC3339),
	}
}

func toTaskResponses(tasks []model.Task) []taskResponse {
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	return out
}

// taskID 同时接受 JSON 数字与数字字符串（前端从 DOM 读取的 id 为字符串）。
type taskID uint

func (id *taskID) UnmarshalJSON(b []byte) error {
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || v == 0 {
		return errInvalidTaskID
	}
	*id = taskID(v)
	return nil
}

type insertTaskRequest struct {
	Name     string `json:"name"`
	Priority string `json:"priority"`
}

type updateTaskRequest struct {
	ID       taskID `json:"id"`
	Name     string `json:"name"`
	Priority string `json:"priority"`
}

func recordTaskOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.TaskOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// handleDashboard 返回当前用户的仪表盘聚合数据。
func (s *Server) handleDashboard(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var gen int64
	cacheable := false
	if s.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		snap, g, hit, err := s.cache.Get(cctx, owner)
		cancel()
		switch {
		case err != nil:
			metrics.DashboardCacheTotal.WithLabelValues("error").Inc()
			s.logger.Warn("dashboard cache get failed", slog.String("error", err.Error()))
		case hit:
			metrics.DashboardCacheTotal.WithLabelValues("hit").Inc()
			c.JSON(http.StatusOK, gin.H{"success": true, "data": snap})
			return
		default:
			metrics.DashboardCacheTotal.WithLabelValues("miss").Inc()
			gen, cacheable = g, true
		}
	}

	snap, err := s.tasks.Aggregate(ctx, owner)
	recordTaskOp("aggregate", err)
	if err != nil {
		s.storeError(c, "aggregate dashboard failed", "Error fetching dashboard data", err)
		return
	}

	if cacheable {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		stored, err := s.cache.Set(cctx, owner, gen, snap)
		cancel()
		switch {
		case err != nil:
			s.logger.Warn("dashboard cache set failed", slog.String("error", err.Error()))
		case !stored:
			s.logger.Debug("dashboard snapshot superseded by concurrent write", slog.Uint64("owner_id", uint64(owner)))
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": snap})
}

// handleListTasks 列出当前用户的全部任务。
func (s *Server) handleListTasks(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	tasks, err := s.tasks.ListAll(c.Request.Context(), owner)
	recordTaskOp("list", err)
	if err != nil {
		s.storeError(c, "list tasks failed", "Error retrieving data", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": toTaskResponses(tasks)})
}

// handleInsertTask 创建任务，date_added 由服务端设置。
func (s *Server) handleInsertTask(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req insertTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body", "error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Task name is required"})
		return
	}
	priority, valid := model.ParsePriority(req.Priority)
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid priority"})
		return
	}

	task, err := s.tasks.Insert(c.Request.Context(), name, priority, owner)
	recordTaskOp("insert", err)
	if err != nil {
		s.storeError(c, "insert task failed", "Error inserting data", err)
		return
	}
	s.invalidateDashboard(c.Request.Context(), owner)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": toTaskResponse(*task)})
}

// handleUpdateTask 更新任务名称与优先级，未命中返回 data=false。
func (s *Server) handleUpdateTask(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body", "error": err.Error()})
		return
	}
	if req.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Task id is required"})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Task name is required"})
		return
	}
	// 更新为整体替换，缺省优先级不能回落到默认值
	priority, valid := model.ParsePriority(req.Priority)
	if !valid || strings.TrimSpace(req.Priority) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid priority"})
		return
	}

	updated, err := s.tasks.Update(c.Request.Context(), uint(req.ID), name, priority, owner)
	recordTaskOp("update", err)
	if err != nil {
		s.storeError(c, "update task failed", "Error updating data", err)
		return
	}
	if updated {
		s.invalidateDashboard(c.Request.Context(), owner)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": updated})
}

// handleDeleteTask 删除任务，未命中返回 data=false。
func (s *Server) handleDeleteTask(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid task id"})
		return
	}

	deleted, err := s.tasks.Delete(c.Request.Context(), uint(id), owner)
	recordTaskOp("delete", err)
	if err != nil {
		s.storeError(c, "delete task failed", "Error deleting data", err)
		return
	}
	if deleted {
		s.invalidateDashboard(c.Request.Context(), owner)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": deleted})
}

// handleSearchTasks 按名称子串搜索当前用户的任务。
func (s *Server) handleSearchTasks(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	tasks, err := s.tasks.SearchByName(c.Request.Context(), c.Param("name"), owner)
	recordTaskOp("search", err)
	if err != nil {
		s.storeError(c, "search tasks failed", "Error searching data", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": toTaskResponses(tasks)})
}
