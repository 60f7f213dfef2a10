// Package router mounts the HTTP surface of the task core.
package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/campfire/backend/internal/auth"
	"github.com/campfire/backend/internal/handlers"
	"github.com/campfire/backend/internal/middleware"
)

// Deps is everything the router mounts.
type Deps struct {
	Tokens         middleware.TokenValidator
	Auth           *auth.Handler
	Tasks          *handlers.TaskHandler
	Ledger         *handlers.LedgerHandler
	Progress       *handlers.ProgressHandler
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// New returns the root handler with CORS applied outside the chi router.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}
	r.Use(middleware.Metrics)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.ActorAuth(d.Tokens))

		r.Get("/me", d.Auth.Me)
		r.Get("/me/balances/{kind}", d.Ledger.MyBalance)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", d.Tasks.SubmitTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/transitions", d.Tasks.Transition)
				r.Post("/claim", d.Tasks.Claim)
				r.Post("/pass", d.Tasks.Pass)
				r.Get("/history", d.Tasks.History)
				r.Get("/reviews", d.Tasks.ListReviews)
				r.Post("/reviews", d.Tasks.CreateReview)
			})
		})

		r.Get("/accounts/{id}/balance", d.Ledger.Balance)

		r.Route("/cashouts", func(r chi.Router) {
			r.Get("/", d.Ledger.ListCashouts)
			r.Post("/", d.Ledger.RequestCashout)
			r.Post("/{id}/resolve", d.Ledger.ResolveCashout)
		})

		r.Get("/contractors/{id}/progress", d.Progress.Get)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/credits", d.Ledger.GrantCredits)
			r.Post("/accounts/{id}/unfreeze", d.Ledger.Unfreeze)
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}).Handler(r)
}
