package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aixgo-dev/datapilot/internal/router"
	"github.com/aixgo-dev/datapilot/pkg/observability"
	"github.com/aixgo-dev/datapilot/pkg/security"
	"github.com/aixgo-dev/datapilot/pkg/session"
)

const maxBodyBytes = 64 * 1024

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type sessionResponse struct {
	session.SessionMetadata
	Turns []*session.Turn `json:"turns,omitempty"`
}

type turnRequest struct {
	Question string `json:"question"`
}

// TurnResponse is the body of a completed turn. Error is set when the turn
// ended in a composed failure answer.
type TurnResponse struct {
	SessionID string                    `json:"session_id"`
	Markdown  string                    `json:"markdown"`
	Intent    router.Intent             `json:"intent"`
	Records   []router.InvocationRecord `json:"records"`
	States    []router.State            `json:"states"`
	Duration  string                    `json:"duration"`
	Error     *security.APIError        `json:"error,omitempty"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}
	sess, err := s.opts.Sessions.Create(r.Context(), session.CreateOptions{UserID: req.UserID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	observability.SessionOpened()
	s.logger.Info("session created", zap.String("session_id", sess.ID()))
	writeJSON(w, http.StatusCreated, sessionResponse{SessionMetadata: sess.Metadata()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	turns, err := sess.Turns(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionMetadata: sess.Metadata(), Turns: turns})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.opts.Sessions.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	observability.SessionClosed()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req turnRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	question, finding, err := s.opts.Guard.Check(req.Question)
	if err != nil {
		if finding != nil {
			s.logger.Warn("question rejected",
				zap.String("session_id", sess.ID()),
				zap.String("category", string(finding.Category)),
			)
		}
		s.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.TurnTimeout)
	defer cancel()

	resp, err := s.opts.Router.Handle(ctx, sess, question)
	if resp == nil {
		s.writeError(w, err)
		return
	}
	out := TurnResponse{
		SessionID: resp.SessionID,
		Markdown:  resp.Markdown,
		Intent:    resp.Intent,
		Records:   resp.Records,
		States:    resp.States,
		Duration:  resp.Duration.Round(time.Millisecond).String(),
	}
	if err != nil {
		out.Error = security.PublicError(err, s.opts.Debug)
		s.logger.Warn("turn failed", zap.String("session_id", sess.ID()), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	sess, err := s.opts.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		err = &security.APIError{Code: security.CodeNotFound, Message: "session not found"}
	}
	e := security.PublicError(err, s.opts.Debug)
	if e.Code == security.CodeInternal {
		s.logger.Error("request failed", zap.Error(err))
	}
	security.WriteError(w, e.Status(), e)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &security.APIError{Code: security.CodeInvalidInput, Message: "invalid request body"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
