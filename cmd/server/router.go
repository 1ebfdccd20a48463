package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sjtutim/hrdb-sub001/internal/api"
	apiMiddleware "github.com/sjtutim/hrdb-sub001/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. It uses the application dependencies to create handlers.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(
		app.taskService,
		app.supervisor,
		app.progress,
		app.executors,
		time.Duration(app.config.Tasks.CleanupStuckAfterMinutes)*time.Minute,
		app.logger,
	)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks/parse", taskHandler.EnqueueParse)
		r.Post("/tasks/match", taskHandler.EnqueueMatch)
		r.Post("/tasks/generation", taskHandler.EnqueueGeneration)

		r.Get("/tasks/{kind}/{id}", taskHandler.GetTask)
		r.Delete("/tasks/{kind}/{id}", taskHandler.DeleteTask)
		r.Post("/tasks/{kind}/{id}/run", taskHandler.RunTask)
		r.Post("/tasks/{kind}/{id}/cancel", taskHandler.CancelTask)
		r.Get("/tasks/{kind}/{id}/stream", taskHandler.StreamTask)

		r.Get("/jobs/{id}/match-progress", taskHandler.MatchProgress)

		r.Post("/admin/tasks/cleanup", taskHandler.Cleanup)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
