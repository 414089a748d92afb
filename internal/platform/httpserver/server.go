package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	proposalengine "agora/contexts/community-governance/proposal-engine"
	governanceerrors "agora/contexts/community-governance/proposal-engine/domain/errors"
	governancehttp "agora/contexts/community-governance/proposal-engine/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "agora/internal/platform/httpserver/docs"
)

type Server struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	addr       string
	governance proposalengine.Module
}

func New(governance proposalengine.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:        http.NewServeMux(),
		logger:     logger,
		addr:       addr,
		governance: governance,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the mux for in-process test harnesses.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/proposals", s.handleCreateProposal)
	s.mux.HandleFunc("GET /v1/proposals/{proposal_id}", s.handleGetProposal)
	s.mux.HandleFunc("POST /v1/proposals/{proposal_id}/votes", s.handleCastVote)
	s.mux.HandleFunc("GET /v1/proposals/{proposal_id}/votes", s.handleProposalVotes)
	s.mux.HandleFunc("GET /v1/communities/{community_id}/proposals", s.handleCommunityProposals)

	s.mux.HandleFunc("POST /governance/proposals", s.handleCreateProposal)
	s.mux.HandleFunc("GET /governance/proposals/{proposal_id}", s.handleGetProposal)
	s.mux.HandleFunc("POST /governance/proposals/{proposal_id}/votes", s.handleCastVote)
	s.mux.HandleFunc("GET /governance/proposals/{proposal_id}/votes", s.handleProposalVotes)
	s.mux.HandleFunc("GET /governance/communities/{community_id}/proposals", s.handleCommunityProposals)
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req governancehttp.CreateProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.governance.Handler.CreateProposalHandler(
		r.Context(),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID := r.PathValue("proposal_id")
	resp, err := s.governance.Handler.GetProposalHandler(r.Context(), proposalID)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req governancehttp.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	proposalID := r.PathValue("proposal_id")
	resp, err := s.governance.Handler.CastVoteHandler(r.Context(), proposalID, userID, req)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleProposalVotes(w http.ResponseWriter, r *http.Request) {
	proposalID := r.PathValue("proposal_id")
	resp, err := s.governance.Handler.ProposalVotesHandler(r.Context(), proposalID)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommunityProposals(w http.ResponseWriter, r *http.Request) {
	communityID := r.PathValue("community_id")
	resp, err := s.governance.Handler.CommunityProposalsHandler(r.Context(), communityID)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeGovernanceDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, governanceerrors.ErrInvalidProposalInput):
		writeGovernanceError(w, http.StatusBadRequest, "invalid_proposal_input", err.Error())
	case errors.Is(err, governanceerrors.ErrInvalidRange):
		writeGovernanceError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, governanceerrors.ErrInvalidVoteInput):
		writeGovernanceError(w, http.StatusBadRequest, "invalid_vote_input", err.Error())
	case errors.Is(err, governanceerrors.ErrIdempotencyKeyRequired):
		writeGovernanceError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	case errors.Is(err, governanceerrors.ErrPermissionDenied):
		writeGovernanceError(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, governanceerrors.ErrProposalNotFound):
		writeGovernanceError(w, http.StatusNotFound, "proposal_not_found", err.Error())
	case errors.Is(err, governanceerrors.ErrVoteNotFound):
		writeGovernanceError(w, http.StatusNotFound, "vote_not_found", err.Error())
	case errors.Is(err, governanceerrors.ErrCommunityNotFound):
		writeGovernanceError(w, http.StatusNotFound, "community_not_found", err.Error())
	case errors.Is(err, governanceerrors.ErrProposalNotActive):
		writeGovernanceError(w, http.StatusConflict, "proposal_not_active", err.Error())
	case errors.Is(err, governanceerrors.ErrDuplicateVote):
		writeGovernanceError(w, http.StatusConflict, "duplicate_vote", err.Error())
	case errors.Is(err, governanceerrors.ErrIdempotencyConflict):
		writeGovernanceError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, governanceerrors.ErrStorageConflict):
		writeGovernanceError(w, http.StatusConflict, "storage_conflict", err.Error())
	case errors.Is(err, governanceerrors.ErrConflict):
		writeGovernanceError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, governanceerrors.ErrVotingWindowClosed):
		writeGovernanceError(w, http.StatusGone, "voting_window_closed", err.Error())
	default:
		writeGovernanceError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeGovernanceError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, governancehttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
