package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/autostrat/internal/archive"
	"github.com/mohammad-safakhou/autostrat/internal/store"
)

const acceptedMessage = "Research started in background."

type GenerateRequest struct {
	Topic string `json:"topic"`
}

type GenerateResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type StatusResponse struct {
	TaskID string  `json:"task_id"`
	Status string  `json:"status"`
	Result *string `json:"result"`
}

type SearchResponse struct {
	Query string        `json:"query"`
	Hits  []archive.Hit `json:"hits"`
}

func (s *Server) generateStrategy(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	if utf8.RuneCountInString(topic) > s.cfg.MaxTopicLength {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("topic exceeds %d characters", s.cfg.MaxTopicLength))
	}

	ctx := c.Request().Context()
	id := uuid.NewString()
	if err := s.store.Create(ctx, id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := s.dispatcher.Dispatch(ctx, id, topic); err != nil {
		// the record exists, so it must not stay processing forever
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := s.store.SetTerminal(fctx, id, store.StatusFailed, "dispatch: "+err.Error()); ferr != nil {
			s.logger.Printf("task %s: mark failed after dispatch error: %v", id, ferr)
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, fmt.Sprintf("could not schedule task %s: %v", id, err))
	}
	s.metrics.TaskSubmitted()
	s.logger.Printf("task %s accepted", id)

	return c.JSON(http.StatusOK, GenerateResponse{
		TaskID:  id,
		Status:  string(store.StatusProcessing),
		Message: acceptedMessage,
	})
}

func (s *Server) status(c echo.Context) error {
	id := c.Param("task_id")
	rec, ok, err := s.store.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Task ID not found")
	}
	return c.JSON(http.StatusOK, StatusResponse{TaskID: rec.ID, Status: string(rec.Status), Result: rec.Result})
}

func (s *Server) searchReports(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusNotFound, "report archive disabled")
	}
	q := c.QueryParam("q")
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	hits, err := s.archive.Search(q, limit)
	if errors.Is(err, archive.ErrEmptyQuery) {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: q, Hits: hits})
}
