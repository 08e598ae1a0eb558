package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/90rdon/Nubela-Tasks/internal/core/tasks"
	"github.com/90rdon/Nubela-Tasks/pkg/types"

	"github.com/gin-gonic/gin"
)

// TasksHandler exposes the task list over REST so the page can render the
// board before (and without) a voice session.
type TasksHandler struct {
	Store *tasks.Store
}

func NewTasksHandler(store *tasks.Store) *TasksHandler {
	return &TasksHandler{Store: store}
}

func (h *TasksHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.Store.List()})
}

func (h *TasksHandler) Create(c *gin.Context) {
	var req types.CreateTaskReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	task, err := h.Store.Add(req.Title)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TasksHandler) Update(c *gin.Context) {
	var req types.UpdateTaskReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Done == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	task, err := h.Store.SetDoneByID(c.Param("id"), *req.Done)
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TasksHandler) Delete(c *gin.Context) {
	if err := h.Store.DeleteByID(c.Param("id")); err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TasksHandler) notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, tasks.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
