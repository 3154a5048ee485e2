package server

import (
	"encoding/json"
	"net/http"

	"mercator-hq/callisto/pkg/inference"
	"mercator-hq/callisto/pkg/model"
)

// predictRequest is the inbound body for POST /predict. Instances stay
// loosely typed so the validator, not the JSON decoder, owns shape errors
// and reports the offending index.
type predictRequest struct {
	Instances []any `json:"instances"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.backend.Loaded() {
		rc := RequestContextFrom(r.Context())
		rec := s.classifier.Classify(&inference.NotLoadedError{}, rc.RequestID)
		writeJSON(w, rec.Code.Status(), inference.AssembleError(rec))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"model":   s.cfg.Model.Name,
		"version": s.cfg.Model.Version,
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rc := RequestContextFrom(r.Context())

	if err := s.gate.Authorize(r); err != nil {
		rec := s.pipeline.Reject(rc, err)
		writeJSON(w, rec.Code.Status(), rec)
		return
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rec := s.pipeline.Reject(rc, &inference.ValidationError{Reason: "invalid_body"})
		writeJSON(w, rec.Code.Status(), rec)
		return
	}

	resp, rec := s.pipeline.Handle(r.Context(), rc, req.Instances)
	if rec != nil {
		writeJSON(w, rec.Code.Status(), rec)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, model.Info{
		Name:      s.cfg.Model.Name,
		Version:   s.cfg.Model.Version,
		URI:       s.cfg.Model.URI,
		Framework: s.cfg.Model.Framework,
		Loaded:    s.backend.Loaded(),
		Device:    "cpu",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
