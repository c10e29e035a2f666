// Package api exposes the run store over HTTP so sweep results can be
// recorded and queried by external tooling.
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/dfrot/internal/rotation"
	"github.com/samcharles93/dfrot/internal/store"
)

// Server serves quantization run records.
type Server struct {
	store *store.Store
}

// NewServer wraps a run store.
func NewServer(s *store.Store) *Server {
	return &Server{store: s}
}

// Register mounts every route on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/runs", s.handleListRuns)
	e.POST("/v1/runs", s.handleCreateRun)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.POST("/v1/runs/:id/status", s.handleSetStatus)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CreateRunRequest is the POST /v1/runs payload.
type CreateRunRequest struct {
	Label     string `json:"label"`
	Model     string `json:"model"`
	Mode      string `json:"mode"`
	WBits     int    `json:"w_bits"`
	ABits     int    `json:"a_bits"`
	KBits     int    `json:"k_bits"`
	VBits     int    `json:"v_bits"`
	GroupSize int    `json:"group_size"`
	Seed      int64  `json:"seed"`
}

func (s *Server) handleCreateRun(c *echo.Context) error {
	req, err := decodeJSON[CreateRunRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "invalid JSON body")
	}
	if req.Model == "" {
		return writeBadRequest(c, "model is required")
	}
	if _, err := rotation.ParseMode(req.Mode); err != nil {
		return writeBadRequest(c, err.Error())
	}
	run, err := s.store.Create(c.Request().Context(), store.Run{
		Label:     req.Label,
		Model:     req.Model,
		Mode:      req.Mode,
		WBits:     req.WBits,
		ABits:     req.ABits,
		KBits:     req.KBits,
		VBits:     req.VBits,
		GroupSize: req.GroupSize,
		Seed:      req.Seed,
	})
	if err != nil {
		return writeInternal(c, err)
	}
	return c.JSON(http.StatusCreated, run)
}

// ListRunsResponse wraps the run list.
type ListRunsResponse struct {
	Object string      `json:"object"`
	Data   []store.Run `json:"data"`
}

func (s *Server) handleListRuns(c *echo.Context) error {
	runs, err := s.store.List(c.Request().Context(), c.QueryParam("model"), c.QueryParam("status"))
	if err != nil {
		return writeInternal(c, err)
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(http.StatusOK, ListRunsResponse{Object: "list", Data: runs})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	run, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return writeNotFound(c, "run not found")
	}
	if err != nil {
		return writeInternal(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// SetStatusRequest is the POST /v1/runs/:id/status payload. Metrics is
// optional; when present it replaces the stored metrics.
type SetStatusRequest struct {
	Status  string             `json:"status"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

func validStatus(s string) bool {
	switch s {
	case store.StatusPending, store.StatusRunning, store.StatusCompleted, store.StatusFailed:
		return true
	}
	return false
}

func (s *Server) handleSetStatus(c *echo.Context) error {
	req, err := decodeJSON[SetStatusRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "invalid JSON body")
	}
	if !validStatus(req.Status) {
		return writeBadRequest(c, "unknown status "+req.Status)
	}
	id := c.Param("id")
	err = s.store.SetStatus(c.Request().Context(), id, req.Status, req.Metrics)
	if errors.Is(err, store.ErrNotFound) {
		return writeNotFound(c, "run not found")
	}
	if err != nil {
		return writeInternal(c, err)
	}
	run, err := s.store.Get(c.Request().Context(), id)
	if err != nil {
		return writeInternal(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// DeleteRunResponse acknowledges a deletion.
type DeleteRunResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	err := s.store.Delete(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return writeNotFound(c, "run not found")
	}
	if err != nil {
		return writeInternal(c, err)
	}
	return c.JSON(http.StatusOK, DeleteRunResponse{ID: id, Object: "run", Deleted: true})
}
