package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"smmpanel/internal/middleware"
)

func (s *Server) RegisterRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Post("/api/login", s.login)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(s.auth.JWTSecret))
		r.Use(middleware.AdminOnly)
		r.Use(middleware.OperatorOnly(s.queue.IsOperator))

		r.Get("/api/settings", s.listSettings)
		r.Put("/api/settings/{key}", s.updateSetting)

		r.Get("/api/services", s.listServices)
		r.Post("/api/services", s.createService)
		r.Get("/api/services/{id}", s.getService)
		r.Put("/api/services/{id}", s.updateService)

		r.Get("/api/users/{id}", s.getUser)
		r.Post("/api/users/{id}/ban", s.setBanned(true))
		r.Post("/api/users/{id}/unban", s.setBanned(false))
		r.Post("/api/users/{id}/balance", s.adjustBalance)

		r.Get("/api/deposits", s.listDeposits)
		r.Post("/api/deposits/{id}/approve", s.decideDeposit(true))
		r.Post("/api/deposits/{id}/reject", s.decideDeposit(false))

		r.Get("/api/orders", s.listOrders)
		r.Put("/api/orders/{id}/status", s.updateOrderStatus)

		r.Post("/api/broadcast", s.sendBroadcast)
		r.Get("/api/stats", s.getStats)
	})

	return r
}
