package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/engine"
	"github.com/pgmirror/pgmirror/internal/lock"
	"github.com/pgmirror/pgmirror/internal/transfer"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SourceDBURL = strings.TrimSpace(req.SourceDBURL)
	req.TargetDBURL = strings.TrimSpace(req.TargetDBURL)
	if req.SourceDBURL == "" || req.TargetDBURL == "" {
		errorResponse(w, http.StatusBadRequest, "source_db_url and target_db_url are required")
		return
	}
	for _, u := range []string{req.SourceDBURL, req.TargetDBURL} {
		if _, err := database.Identity(u); err != nil {
			errorResponse(w, http.StatusBadRequest, "invalid connection string: "+err.Error())
			return
		}
	}
	engReq := engine.Request{SourceURL: req.SourceDBURL, TargetURL: req.TargetDBURL}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		st, err := s.engine.Start(r.Context(), engReq)
		if err != nil {
			s.startError(w, err)
			return
		}
		jsonResponse(w, http.StatusAccepted, AsyncAcceptedResponse{
			RunID:   st.ID,
			Status:  "accepted",
			Message: "transfer started",
		})
		return
	}

	res, rep, err := s.engine.RunSync(r.Context(), engReq)
	if res == nil {
		s.startError(w, err)
		return
	}
	resp := TransferResponse{RunID: res.RunID, Report: rep}
	if rep != nil {
		resp.Status = rep.Status
	}
	if err != nil {
		resp.Error = err.Error()
		jsonResponse(w, http.StatusInternalServerError, resp)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

// startError maps errors that stop a run before it begins.
func (s *Server) startError(w http.ResponseWriter, err error) {
	var connErr *database.ConnectionError
	switch {
	case errors.Is(err, transfer.ErrSameDatabase):
		errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lock.ErrHeld):
		errorResponse(w, http.StatusConflict, err.Error())
	case errors.As(err, &connErr):
		errorResponse(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("starting transfer", "error", err)
		errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, RunListResponse{Runs: s.engine.List()})
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	st, ok := s.engine.Status(r.PathValue("id"))
	if !ok {
		errorResponse(w, http.StatusNotFound, "run not found")
		return
	}
	jsonResponse(w, http.StatusOK, st)
}

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.engine.Cancel(id)
	switch {
	case errors.Is(err, engine.ErrRunNotFound):
		errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrRunFinished):
		errorResponse(w, http.StatusConflict, err.Error())
	case err != nil:
		errorResponse(w, http.StatusInternalServerError, err.Error())
	default:
		jsonResponse(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
	}
}
