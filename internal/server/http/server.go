// Package http exposes the vault operations over a JWT-authenticated JSON
// API. The transport is deliberately thin: identity comes from the token,
// the unlocking secret travels only in request bodies, and every decision
// is made by the service layer.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wellvault/internal/service"
)

type Server struct {
	vault         service.VaultService
	practitioners service.PractitionerService
	signKey       []byte
	log           *zap.Logger
}

// NewServer constructs the HTTP transport over the vault services.
func NewServer(vault service.VaultService, practitioners service.PractitionerService, signKey []byte, log *zap.Logger) *Server {
	return &Server{vault: vault, practitioners: practitioners, signKey: signKey, log: log}
}

// Router builds the chi router. /metrics and /healthz stay outside the
// authenticated API tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(Identity(s.signKey))

		api.Post("/practitioners", s.enroll)

		api.Route("/records", func(rr chi.Router) {
			rr.Post("/", s.createRecord)
			rr.Get("/", s.listRecords)

			rr.Route("/{recordID}", func(one chi.Router) {
				one.Post("/read", s.readRecord)
				one.Post("/update", s.updateRecord)
				one.Post("/delete", s.deleteRecord)
				one.Get("/grants", s.listGrantees)
				one.Post("/grants", s.grantAccess)
				one.Post("/grants/{practitionerID}/revoke", s.revokeAccess)
				one.Post("/grants/revoke-all", s.revokeAll)
				one.Get("/audit", s.auditTrail)
			})
		})
	})
	return r
}
