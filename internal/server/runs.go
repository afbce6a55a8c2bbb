package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Samrat2803/cognitive-core/internal/agent"
	"github.com/Samrat2803/cognitive-core/internal/agent/graph"
	"github.com/Samrat2803/cognitive-core/internal/stream"
	"github.com/Samrat2803/cognitive-core/internal/store"
)

type submitRequest struct {
	Query string `json:"query"`
}

type submitResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (s *Server) submitRun(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	runID, err := s.engine.Submit(req.Query)
	if errors.Is(err, graph.ErrEmptyQuery) {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, submitResponse{RunID: runID, Status: string(agent.RunRunning)})
}

func (s *Server) listRuns(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "history store not configured")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	runs, err := s.history.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) getRun(c echo.Context) error {
	runID := c.Param("run_id")
	if s.history != nil {
		rs, err := s.history.GetRun(c.Request().Context(), runID)
		if err == nil {
			return c.JSON(http.StatusOK, rs)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	// not persisted yet; maybe still executing
	if q, ok := s.engine.Active(runID); ok {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"query":  q,
			"status": agent.RunRunning,
		})
	}
	return echo.NewHTTPError(http.StatusNotFound, "run not found")
}

func (s *Server) cancelRun(c echo.Context) error {
	err := s.engine.Cancel(c.Param("run_id"))
	if errors.Is(err, graph.ErrUnknownRunID) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found or already finished")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": string(agent.RunCancelled)})
}

// streamEvents serves the run's event stream over SSE. A reconnecting client
// passes its last seen sequence in Last-Event-ID (or ?last_seq=) and gets the
// buffered backlog replayed before live events; a gap beyond the buffer shows
// up as a resync event.
func (s *Server) streamEvents(c echo.Context) error {
	runID := c.Param("run_id")

	var lastSeq uint64
	raw := c.Request().Header.Get("Last-Event-ID")
	if raw == "" {
		raw = c.QueryParam("last_seq")
	}
	if raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid last event id")
		}
		lastSeq = n
	}

	ch, cancel, err := s.dispatcher.Subscribe(runID, lastSeq)
	if errors.Is(err, stream.ErrUnknownRun) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, open := <-ch:
			if !open {
				// terminal event delivered; stream is over
				return nil
			}
			if _, err := fmt.Fprintf(resp, "id: %d\nevent: %s\ndata: %s\n\n",
				evt.Seq, evt.Kind, evt.Marshal()); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func (s *Server) getArtifact(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "history store not configured")
	}
	art, err := s.history.GetArtifact(c.Request().Context(), c.Param("artifact_id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
	}
	if err != nil {
		return err
	}

	out := map[string]interface{}{"artifact": art}
	if s.blobs != nil {
		payload, err := s.blobs.Fetch(c.Request().Context(), art.StorageRef)
		if err == nil {
			out["spec"] = json.RawMessage(payload)
		} else {
			s.logger.Printf("artifact %s: payload fetch failed: %v", art.ID, err)
		}
	}
	return c.JSON(http.StatusOK, out)
}
