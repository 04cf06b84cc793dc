package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"shortsgen/admin"
	"shortsgen/auth"
	"shortsgen/httputil"
	"shortsgen/ingestapi"
	"shortsgen/queueapi"
	"shortsgen/ratelimit"
	"shortsgen/worker"
)

func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			httputil.MaxBody(r, httputil.DefaultBodyLimit)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) router(rl *ratelimit.RateLimiter) http.Handler {
	cfg := a.cfg
	authH := &auth.Handler{
		Username:     cfg.OperatorUser,
		PasswordHash: cfg.OperatorPasswordHash,
		AdminUsers:   cfg.AdminUsers,
		JWTSecret:    cfg.JWTSecret,
		TokenTTL:     cfg.JWTTTL,
	}
	queueH := &queueapi.Handler{Queue: a.queue, Archive: a.archive, Log: a.log}
	ingestH := &ingestapi.Handler{Runner: a.runner, Log: a.log}
	workerH := &worker.Handler{Queue: a.queue, WorkerSecret: cfg.WorkerSecret, Log: a.log}
	adminH := &admin.Handler{Queue: a.queue, StartedAt: a.started, Log: a.log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httputil.AccessLog(a.log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(bodyLimit)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})

	workerH.Routes(r)

	r.Group(func(r chi.Router) {
		if rl != nil {
			r.Use(ratelimit.Middleware(rl))
		}
		r.Post("/api/auth/login", authH.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(authH.AuthMiddleware)
			queueH.Routes(r)
			ingestH.Routes(r)
		})

		if !cfg.IsProduction() {
			r.Group(func(r chi.Router) {
				r.Use(authH.AdminMiddleware)
				adminH.Routes(r)
			})
		}
	})
	return r
}
