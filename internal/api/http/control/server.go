package control

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/oshokin/zephyr-tools/internal/logger"
	"github.com/oshokin/zephyr-tools/internal/queue"
	"github.com/oshokin/zephyr-tools/internal/service/common"
	"github.com/oshokin/zephyr-tools/internal/service/project"
)

// Command names accepted by POST /v1/commands/{name}.
const (
	CommandBuild         = "build"
	CommandBuildPristine = "build-pristine"
	CommandFlash         = "flash"
	CommandUpdate        = "update"
	CommandClean         = "clean"
)

// Service abstracts the project operations the transport layer depends on.
type Service interface {
	Build(ctx context.Context, pristine bool) (*queue.Batch, error)
	Flash(ctx context.Context) (*queue.Batch, error)
	Update(ctx context.Context) (*queue.Batch, error)
	Clean(ctx context.Context) (string, error)
	Status(ctx context.Context) (*project.Status, error)
}

// Queue is the part of the task queue the API reports on and cancels.
type Queue interface {
	State() queue.State
	Pending() int
	Batch(id uuid.UUID) (*queue.Batch, bool)
	Cancel()
}

// QueueStatus describes the task queue.
type QueueStatus struct {
	State   queue.State `json:"state"`
	Pending int         `json:"pending"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	Queue     QueueStatus     `json:"queue"`
	Workspace *project.Status `json:"workspace"`
	Actor     *common.Actor   `json:"actor,omitempty"`
}

// CommandResponse is returned by POST /v1/commands/{name}.
type CommandResponse struct {
	Command string    `json:"command"`
	BatchID uuid.UUID `json:"batch_id,omitzero"`
	// Removed is the folder removed by clean.
	Removed string `json:"removed,omitempty"`
}

// Server implements the control API.
type Server struct {
	// service runs project commands.
	service Service
	// queue is the task queue shared with service.
	queue Queue
	// actor identifies the host in status responses. It may be nil.
	actor *common.Actor
	// logCtx carries the logger for request logging.
	logCtx context.Context //nolint:containedctx // Request contexts do not carry the logger.
}

// NewServer wires the provided service and queue into an HTTP handler.
func NewServer(ctx context.Context, service Service, q Queue, actor *common.Actor) *Server {
	return &Server{
		service: service,
		queue:   q,
		actor:   actor,
		logCtx:  logger.WithName(ctx, "control"),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, r.Method+" is not allowed on "+r.URL.Path)
	})

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/commands/{name}", s.command)
		r.Get("/batches/{id}", s.batch)
		r.Post("/queue/cancel", s.cancel)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	workspace, err := s.service.Status(r.Context())
	if err != nil {
		s.fail(w, err)

		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Queue:     QueueStatus{State: s.queue.State(), Pending: s.queue.Pending()},
		Workspace: workspace,
		Actor:     s.actor,
	})
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := logger.WithKV(s.logCtx, "command", name)

	var (
		batch *queue.Batch
		err   error
	)

	switch name {
	case CommandBuild:
		batch, err = s.service.Build(ctx, false)
	case CommandBuildPristine:
		batch, err = s.service.Build(ctx, true)
	case CommandFlash:
		batch, err = s.service.Flash(ctx)
	case CommandUpdate:
		batch, err = s.service.Update(ctx)
	case CommandClean:
		removed, cleanErr := s.service.Clean(ctx)
		if cleanErr != nil {
			s.fail(w, cleanErr)

			return
		}

		writeJSON(w, http.StatusOK, CommandResponse{Command: name, Removed: removed})

		return
	default:
		writeError(w, http.StatusNotFound, CodeUnknownCommand, "unknown command "+name)

		return
	}

	if err != nil {
		s.fail(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, CommandResponse{Command: name, BatchID: batch.ID()})
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "batch id must be a UUID")

		return
	}

	batch, ok := s.queue.Batch(id)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "unknown batch "+id.String())

		return
	}

	result, _ := batch.Result()

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancel(w http.ResponseWriter, _ *http.Request) {
	s.queue.Cancel()

	writeJSON(w, http.StatusAccepted, QueueStatus{State: s.queue.State(), Pending: s.queue.Pending()})
}

// fail logs err and writes it as an error response.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorKV(s.logCtx, "Request failed", "error", err)
	}

	writeError(w, status, code, err.Error())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()

		next.ServeHTTP(ww, r)

		logger.DebugKV(s.logCtx, "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(started))
	})
}
