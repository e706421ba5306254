package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/capture"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/credential"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/service"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/types"
)

type Dependencies struct {
	Logger            *log.Logger
	Addr              string
	TriggerService    *service.TriggerService
	CredentialService *service.CredentialService
	CommandService    *service.CommandService
	MetricsHandler    http.Handler
	// ExposeCredentials mounts the outstanding-code listing. Dev only.
	ExposeCredentials bool
}

type Server struct {
	httpServer        *http.Server
	logger            *log.Logger
	mux               *http.ServeMux
	triggerService    *service.TriggerService
	credentialService *service.CredentialService
	commandService    *service.CommandService
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:            d.Logger,
		mux:               mux,
		triggerService:    d.TriggerService,
		credentialService: d.CredentialService,
		commandService:    d.CommandService,
	}

	mux.HandleFunc("POST /v1/trigger", s.handleTrigger)
	mux.HandleFunc("POST /v1/credentials", s.handleIssueCredential)
	mux.HandleFunc("POST /v1/credentials/verify", s.handleVerifyCredential)
	mux.HandleFunc("POST /v1/commands", s.handleEnqueueCommand)
	mux.HandleFunc("GET /v1/commands/next", s.handlePollCommand)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Routes the door firmware and the iOS app were built against.
	mux.HandleFunc("POST /trigger", s.handleLegacyTrigger)
	mux.HandleFunc("POST /generate_temp_password", s.handleLegacyIssueCredential)
	mux.HandleFunc("POST /verify_temp_password", s.handleLegacyVerifyCredential)
	mux.HandleFunc("POST /mobile_command", s.handleLegacyEnqueueCommand)
	mux.HandleFunc("GET /get_mobile_command", s.handlePollCommand)
	mux.HandleFunc("GET /unlock", s.handleShortcut(service.CommandUnlock))
	mux.HandleFunc("GET /lock", s.handleShortcut(service.CommandLock))
	mux.HandleFunc("GET /change_password", s.handleChangePasswordShortcut)
	mux.HandleFunc("GET /take_photo", s.handleTakePhotoShortcut)

	if d.ExposeCredentials {
		mux.HandleFunc("GET /v1/credentials", s.handleListCredentials)
		mux.HandleFunc("GET /list_temp_passwords", s.handleListCredentials)
	}
	if d.MetricsHandler != nil {
		mux.Handle("GET /metrics", d.MetricsHandler)
	}

	handler := loggingMiddleware(d.Logger, recoverMiddleware(d.Logger, mux))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Trigger ──────────────────────────────────────────────────────────────────

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, true)
}

func (s *Server) handleLegacyTrigger(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, false)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, strict bool) {
	var req types.TriggerRequest
	if err := decodeBody(r, &req, strict); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	resp, err := s.triggerService.Submit(r.Context(), req)
	if err != nil {
		s.logger.Printf("trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	// Busy is a normal answer, not a failure.
	respond(w, r, http.StatusOK, resp)
}

// ── Credentials ──────────────────────────────────────────────────────────────

func (s *Server) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.issue(w, r)
	if !ok {
		return
	}
	respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleLegacyIssueCredential(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.issue(w, r)
	if !ok {
		return
	}
	resp.TempPassword = resp.Code
	respond(w, r, http.StatusOK, resp)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request) (types.IssueCredentialResponse, bool) {
	resp, err := s.credentialService.Issue(r.Context())
	if err != nil {
		s.logger.Printf("issue credential error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue code")
		return resp, false
	}
	return resp, true
}

func (s *Server) handleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	s.verify(w, r, true)
}

func (s *Server) handleLegacyVerifyCredential(w http.ResponseWriter, r *http.Request) {
	s.verify(w, r, false)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request, strict bool) {
	var req types.VerifyCredentialRequest
	if err := decodeBody(r, &req, strict); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	resp, err := s.credentialService.Verify(r.Context(), req)
	if err != nil {
		if errors.Is(err, credential.ErrInvalidCode) {
			writeError(w, http.StatusBadRequest, "invalid_code", err.Error())
			return
		}
		s.logger.Printf("verify credential error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.credentialService.Outstanding())
}

// ── Commands ─────────────────────────────────────────────────────────────────

func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, true)
}

func (s *Server) handleLegacyEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, false)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, strict bool) {
	var req types.EnqueueCommandRequest
	if err := decodeBody(r, &req, strict); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	payload, err := service.ParseCommand(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_command", err.Error())
		return
	}
	if payload == service.CommandTakePhoto {
		s.takePhoto(w, r)
		return
	}

	resp, err := s.commandService.Enqueue(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCommand) {
			writeError(w, http.StatusBadRequest, "invalid_command", err.Error())
			return
		}
		s.logger.Printf("enqueue command error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	respond(w, r, http.StatusOK, resp)
}

func (s *Server) takePhoto(w http.ResponseWriter, r *http.Request) {
	resp, err := s.commandService.TakePhoto(r.Context())
	if err != nil {
		if errors.Is(err, capture.ErrSourceUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "source_unavailable", "photo fetch failed")
			return
		}
		s.logger.Printf("take_photo error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	respond(w, r, http.StatusOK, resp)
}

func (s *Server) handlePollCommand(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.commandService.Poll(r.Context()))
}

func (s *Server) handleShortcut(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.commandService.Enqueue(r.Context(), types.EnqueueCommandRequest{Command: name}); err != nil {
			writeText(w, http.StatusBadRequest, "Error: "+err.Error())
			return
		}
		writeText(w, http.StatusOK, "Command received: "+name)
	}
}

func (s *Server) handleChangePasswordShortcut(w http.ResponseWriter, r *http.Request) {
	password := r.URL.Query().Get("password")
	if password == "" {
		writeText(w, http.StatusBadRequest, "Error: missing password parameter")
		return
	}

	req := types.EnqueueCommandRequest{Command: service.CommandChangePassword, Password: password}
	if _, err := s.commandService.Enqueue(r.Context(), req); err != nil {
		writeText(w, http.StatusBadRequest, "Error: password must be numeric")
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Command received: %s", service.CommandChangePassword))
}

func (s *Server) handleTakePhotoShortcut(w http.ResponseWriter, r *http.Request) {
	s.commandService.QueueSnapshot(r.Context())
	writeText(w, http.StatusOK, "Command received: take_photo, processing...")
}

// ── Health ───────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, types.HealthResponse{
		Status:      "ok",
		CaptureBusy: s.triggerService.Busy(),
		Pending:     s.commandService.Pending(),
		ServerTime:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}
