package api

import (
	"github.com/pgmirror/pgmirror/internal/engine"
	"github.com/pgmirror/pgmirror/internal/report"
)

// TransferRequest is the request body for POST /transfer.
type TransferRequest struct {
	SourceDBURL string `json:"source_db_url"`
	TargetDBURL string `json:"target_db_url"`
}

// AsyncAcceptedResponse is the response for a transfer dispatched in the
// background.
type AsyncAcceptedResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TransferResponse is the response for POST /transfer?wait=true.
type TransferResponse struct {
	RunID  string            `json:"run_id"`
	Status string            `json:"status"`
	Report *report.RunReport `json:"report,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// RunListResponse lists tracked runs.
type RunListResponse struct {
	Runs []engine.RunStatus `json:"runs"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
