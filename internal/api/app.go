// Package api implements C8: the management HTTP surface over C3/C4/C7,
// per the endpoint table in §6.
package api

import (
	"log/slog"
	"net/http"

	"github.com/agentsh/yfass/internal/functionstore"
	"github.com/agentsh/yfass/internal/registry"
	"github.com/agentsh/yfass/internal/userstore"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// App wires the management API's dependencies and exposes its router.
type App struct {
	Functions *functionstore.Store
	Runtime   *registry.Registry
	Users     *userstore.Store
	RootToken string

	log *slog.Logger
}

func New(functions *functionstore.Store, runtime *registry.Registry, users *userstore.Store, rootToken string, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{Functions: functions, Runtime: runtime, Users: users, RootToken: rootToken, log: log.With("component", "api")}
}

// Router builds the chi mux for all /api/* endpoints of §6.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Request-Id", middleware.GetReqID(r.Context()))
			next.ServeHTTP(w, r)
		})
	})
	r.Use(a.recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Post("/add", a.handleUserAdd)
			r.Get("/get/{name}", a.handleUserGet)
			r.Delete("/remove/{name}", a.handleUserRemove)
			r.Post("/request-token", a.handleRequestToken)
			r.Put("/modify", a.handleUserModify)
		})
		r.Post("/upload/{key}", a.handleUpload)
		r.Get("/get/{key}", a.handleGet)
		r.Put("/override/{key}", a.handleOverride)
		r.Put("/alias/{key}", a.handleAlias)
		r.Delete("/remove/{key}", a.handleRemove)
		r.Post("/deploy/{key}", a.handleDeploy)
		r.Post("/kill/{key}", a.handleKill)
		r.Get("/status/{key}", a.handleStatus)
	})
	return r
}

func (a *App) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Error("panic in handler", "recovered", rec, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
