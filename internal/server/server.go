// Package server exposes the operator HTTP surface: health, Prometheus
// metrics, and read-only run inspection.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quillstack/corpusd/internal/logging"
	"github.com/quillstack/corpusd/internal/runs"
)

// RunReader is the slice of the run tracker the server needs.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (runs.Run, error)
	ListItems(ctx context.Context, runID string) ([]runs.Item, error)
	ListItemLogs(ctx context.Context, itemID string) ([]runs.ItemLog, error)
}

// Server is the operator HTTP server.
type Server struct {
	echo   *echo.Echo
	runs   RunReader
	logger *logging.Logger
}

// New creates a Server with routes registered.
func New(runReader RunReader, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		runs:   runReader,
		logger: logger,
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.GET("/v1/runs/:id/items", s.handleListItems)
	e.GET("/v1/items/:id/logs", s.handleListItemLogs)

	return s
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info(context.Background(), "operator server listening", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler returns the http.Handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type runResponse struct {
	ID             string     `json:"id"`
	OrgName        string     `json:"org_name"`
	UserID         string     `json:"user_id"`
	Datasource     string     `json:"datasource"`
	IndexName      string     `json:"index_name"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	ItemsTotal     int        `json:"items_total"`
	ItemsCompleted int        `json:"items_completed"`
	ItemsFailed    int        `json:"items_failed"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

func toRunResponse(run runs.Run) runResponse {
	resp := runResponse{
		ID:             run.ID,
		OrgName:        run.OrgName,
		UserID:         run.UserID,
		Datasource:     run.Datasource,
		IndexName:      run.IndexName,
		Status:         string(run.Status),
		Error:          run.Error,
		ItemsTotal:     run.ItemsTotal,
		ItemsCompleted: run.ItemsCompleted,
		ItemsFailed:    run.ItemsFailed,
		StartedAt:      run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = &run.FinishedAt
	}
	return resp
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.runs.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, runs.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "loading run", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading run failed")
	}
	return c.JSON(http.StatusOK, toRunResponse(run))
}

type itemResponse struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	Title      string     `json:"title,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) handleListItems(c echo.Context) error {
	runID := c.Param("id")
	if _, err := s.runs.GetRun(c.Request().Context(), runID); errors.Is(err, runs.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}

	items, err := s.runs.ListItems(c.Request().Context(), runID)
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing items", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing items failed")
	}

	out := make([]itemResponse, len(items))
	for i, item := range items {
		out[i] = itemResponse{
			ID:         item.ID,
			DocumentID: item.DocumentID,
			Title:      item.Title,
			Status:     string(item.Status),
			Error:      item.Error,
			StartedAt:  item.StartedAt,
		}
		if !item.FinishedAt.IsZero() {
			finished := item.FinishedAt
			out[i].FinishedAt = &finished
		}
	}
	return c.JSON(http.StatusOK, out)
}

type itemLogResponse struct {
	Stage   string    `json:"stage"`
	Percent int       `json:"percent"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

func (s *Server) handleListItemLogs(c echo.Context) error {
	logs, err := s.runs.ListItemLogs(c.Request().Context(), c.Param("id"))
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing item logs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing item logs failed")
	}

	out := make([]itemLogResponse, len(logs))
	for i, l := range logs {
		out[i] = itemLogResponse{Stage: l.Stage, Percent: l.Percent, Message: l.Message, At: l.At}
	}
	return c.JSON(http.StatusOK, out)
}
