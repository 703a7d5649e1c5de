package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"maintflow/access"
	"maintflow/auth"
	"maintflow/equipment"
	"maintflow/request"
	"maintflow/team"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type requestService interface {
	Create(ctx context.Context, params request.CreateParams) (request.Request, error)
	Get(ctx context.Context, id string, actor access.Actor) (request.Request, error)
	History(ctx context.Context, id string, actor access.Actor) ([]request.LogEntry, error)
	Transition(ctx context.Context, params request.TransitionParams) (request.Request, error)
	Assign(ctx context.Context, params request.AssignParams) (request.Request, error)
	Update(ctx context.Context, params request.UpdateParams) (request.Request, error)
	Delete(ctx context.Context, id string, actor access.Actor) error
}

type equipmentStore interface {
	GetByID(ctx context.Context, id string) (equipment.Equipment, error)
	Create(ctx context.Context, params equipment.CreateParams) (equipment.Equipment, error)
	List(ctx context.Context, limit int) ([]equipment.Equipment, error)
}

type teamStore interface {
	GetByID(ctx context.Context, id string) (team.Team, error)
	Create(ctx context.Context, name string) (team.Team, error)
	AddMember(ctx context.Context, teamID, userID string) error
	Members(ctx context.Context, teamID string) ([]team.Member, error)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	authService    authService
	requestService requestService
	equipmentStore equipmentStore
	teamStore      teamStore
	policy         access.Policy
	log            logrus.FieldLogger
	ready          func(context.Context) error
}

type ctxKey string

const (
	ctxKeyUserID    ctxKey = "userID"
	ctxKeyRole      ctxKey = "role"
	ctxKeyRequestID ctxKey = "requestID"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/me", s.handleMe)

			r.Route("/requests", func(r chi.Router) {
				r.Post("/", s.handleCreateRequest)
				r.Route("/{id}", func(r chi.Router) {
					r.Use(requireUUIDParam("id"))
					r.Get("/", s.handleGetRequest)
					r.Patch("/", s.handleUpdateRequest)
					r.Delete("/", s.handleDeleteRequest)
					r.Post("/transition", s.handleTransition)
					r.Put("/technician", s.handleAssign)
					r.Get("/logs", s.handleRequestLogs)
				})
			})

			r.Route("/equipment", func(r chi.Router) {
				r.Get("/", s.handleListEquipment)
				r.With(s.require(access.CapManageAssets)).Post("/", s.handleCreateEquipment)
				r.With(requireUUIDParam("id")).Get("/{id}", s.handleGetEquipment)
			})

			r.Route("/teams", func(r chi.Router) {
				r.With(s.require(access.CapManageAssets)).Post("/", s.handleCreateTeam)
				r.Route("/{id}", func(r chi.Router) {
					r.Use(requireUUIDParam("id"))
					r.Get("/", s.handleGetTeam)
					r.With(s.require(access.CapManageAssets)).Post("/members", s.handleAddMember)
				})
			})
		})
	})

	return r
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		requestID, _ := r.Context().Value(ctxKeyRequestID).(string)
		entry := s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"http_id":     requestID,
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	})
}

// authenticate resolves the bearer token into the actor stored on the context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, role, ok := s.bearer(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) bearer(r *http.Request) (string, auth.Role, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return "", "", false
	}
	userID, role, err := s.authService.VerifyToken(strings.TrimSpace(token))
	if err != nil {
		return "", "", false
	}
	return userID, role, true
}

// require rejects callers whose role lacks capability.
func (s *Server) require(capability access.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.policy.Can(actorFrom(r).Role, capability) {
				writeError(w, http.StatusForbidden, string(request.KindForbidden), "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireUUIDParam(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := uuid.Validate(chi.URLParam(r, name)); err != nil {
				writeError(w, http.StatusNotFound, string(request.KindNotFound), name+" is not a valid identifier")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFrom(r *http.Request) access.Actor {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return access.Actor{UserID: userID, Role: role}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.log.WithError(err).Warn("readiness probe failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps err onto the error taxonomy and writes it. Internal failures are
// logged and their text withheld from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := request.KindOf(err)
	status := statusForKind(kind)
	if kind == request.KindInternal {
		requestID, _ := r.Context().Value(ctxKeyRequestID).(string)
		s.log.WithError(err).WithFields(logrus.Fields{"path": r.URL.Path, "http_id": requestID}).Error("unhandled error")
		writeError(w, status, string(kind), "internal error")
		return
	}
	writeError(w, status, string(kind), err.Error())
}

func statusForKind(kind request.Kind) int {
	switch kind {
	case request.KindValidation:
		return http.StatusBadRequest
	case request.KindForbidden:
		return http.StatusForbidden
	case request.KindNotFound:
		return http.StatusNotFound
	case request.KindConflict, request.KindDuplicate:
		return http.StatusConflict
	case request.KindInvalidTransition, request.KindTerminalState, request.KindMissingDuration, request.KindInvalidState:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON object into dst. Malformed bodies are
// validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", request.ErrValidation, err)
	}
	return nil
}
