package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/stepup"
	"github.com/MrEthical07/stepup/challenge"
	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/metrics/export/prometheus"
	"github.com/MrEthical07/stepup/middleware"
	"github.com/MrEthical07/stepup/risk"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type triggerRequest struct {
	UserID string               `json:"userId"`
	Action stepup.ActionContext `json:"action"`
}

// challengeRequest carries the action, never a level: the requirement is
// always computed here.
type challengeRequest struct {
	UserID string               `json:"userId"`
	Action stepup.ActionContext `json:"action"`
}

type responseRequest struct {
	UserID   string             `json:"userId"`
	Response challenge.Response `json:"response"`
}

type sessionRequest struct {
	UserID   string               `json:"userId"`
	Action   stepup.ActionContext `json:"action"`
	Metadata map[string]string    `json:"metadata,omitempty"`
}

type sessionResponse struct {
	Trigger *stepup.TriggerResult       `json:"trigger"`
	Session *stepup.VerificationStarted `json:"session,omitempty"`
}

type stepRequest struct {
	ChallengeType factor.Type      `json:"challengeType"`
	Input         stepup.StepInput `json:"input"`
}

type server struct {
	engine *stepup.Engine
	logger *slog.Logger
}

// routes wires the five verification operations, a token-guarded probe, and
// the operational endpoints.
func (s *server) routes(limiter *throttle) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	router.Handle("/metrics", prometheus.NewPrometheusExporter(s.engine).Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(middleware.RequestContext)
	if limiter != nil {
		api.Use(limiter.middleware)
	}

	api.HandleFunc("/triggers", s.checkTrigger).Methods(http.MethodPost)
	api.HandleFunc("/challenges", s.generateChallenge).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{nonce}/responses", s.processResponse).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.initializeSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/steps", s.submitStep).Methods(http.MethodPost)

	api.Handle("/stepup/claims", middleware.RequireStepUp(s.engine, risk.LevelLight)(http.HandlerFunc(s.claims))).
		Methods(http.MethodGet)

	return router
}

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) checkTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.CheckVerificationTrigger(r.Context(), req.UserID, req.Action)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) generateChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !s.decode(w, r, &req) {
		return
	}
	trigger, err := s.engine.CheckVerificationTrigger(r.Context(), req.UserID, req.Action)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload, err := s.engine.GenerateVerificationChallenge(r.Context(), req.UserID, trigger)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if payload.Required {
		status = http.StatusCreated
	}
	writeJSON(w, status, payload)
}

func (s *server) processResponse(w http.ResponseWriter, r *http.Request) {
	var req responseRequest
	if !s.decode(w, r, &req) {
		return
	}
	nonce := mux.Vars(r)["nonce"]
	if req.Response.Nonce == "" {
		req.Response.Nonce = nonce
	}

	// The engine looks the challenge up by nonce; the client copy is not trusted.
	res, err := s.engine.ProcessVerificationResponse(r.Context(), req.UserID, &challenge.Challenge{Nonce: nonce}, req.Response)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) initializeSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	trigger, err := s.engine.CheckVerificationTrigger(r.Context(), req.UserID, req.Action)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !trigger.Required {
		writeJSON(w, http.StatusOK, sessionResponse{Trigger: trigger})
		return
	}
	started, err := s.engine.InitializeVerification(r.Context(), req.UserID, trigger.Level, req.Metadata)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Trigger: trigger, Session: started})
}

func (s *server) submitStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.SubmitChallenge(r.Context(), mux.Vars(r)["id"], req.ChallengeType, req.Input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) claims(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, claims)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: fmt.Sprintf("decode request: %v", err),
			Kind:  stepup.KindValidation.String(),
		})
		return false
	}
	return true
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := stepup.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorBody{Error: "internal error", Kind: kind.String()})
		return
	}

	var se *stepup.Error
	msg := err.Error()
	if errors.As(err, &se) && se.Err != nil {
		msg = se.Err.Error()
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind.String()})
}

func statusFor(kind stepup.ErrorKind) int {
	switch kind {
	case stepup.KindValidation:
		return http.StatusBadRequest
	case stepup.KindNotFound:
		return http.StatusNotFound
	case stepup.KindExpired:
		return http.StatusGone
	case stepup.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
