package server

import (
	"encoding/json"
	"net/http"

	"github.com/promptlane/agentloop"
	"github.com/promptlane/agentloop/stream"
)

type loopRequest struct {
	Messages  []agentloop.Message `json:"messages"`
	ProjectID string              `json:"projectId,omitempty"`
}

func (s *Server) handleLoop(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeLoopRequest(w, r)
	if !ok {
		return
	}
	run := s.engine.Run(r.Context(), req.Messages)
	s.streamRun(w, r, run)
}

func (s *Server) handleProjectLoop(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeLoopRequest(w, r)
	if !ok {
		return
	}
	if s.projects == nil {
		http.Error(w, "project loop not configured", http.StatusNotFound)
		return
	}
	if req.ProjectID == "" {
		http.Error(w, "projectId is required", http.StatusBadRequest)
		return
	}

	registry, err := s.tools.Get(r.Context(), req.ProjectID)
	if err != nil {
		s.logger.Error("project tools unavailable", "projectId", req.ProjectID, "error", err)
		http.Error(w, "project tools unavailable", http.StatusBadGateway)
		return
	}

	run := s.engine.RunWithRegistry(r.Context(), req.Messages, registry)
	s.streamRun(w, r, run)
}

func (s *Server) decodeLoopRequest(w http.ResponseWriter, r *http.Request) (loopRequest, bool) {
	var req loopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return loopRequest{}, false
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages are required", http.StatusBadRequest)
		return loopRequest{}, false
	}
	return req, true
}

// streamRun writes the run's events as SSE until the turn reaches paused,
// finished or failed. An abandoned client surfaces as an encoder write
// error; the run is closed and the handler returns without blocking.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, run *agentloop.Run) {
	defer run.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(w)
	for run.Next() {
		if err := enc.Write(run.Event()); err != nil {
			s.logger.Info("client went away", "requestId", RequestID(r.Context()), "error", err)
			return
		}
	}
	if err := run.Err(); err != nil {
		s.logger.Error("turn aborted", "requestId", RequestID(r.Context()), "error", err)
	}
}
