// Package api serves the floating IP operations over HTTP. Every response
// body is a service envelope.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/metrics"
	"github.com/jbweber/homelab/floater/internal/service"
)

// API holds the service the handlers delegate to
type API struct {
	svc     *service.Service
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// NewAPI creates a new API over svc
func NewAPI(svc *service.Service, m *metrics.Metrics, log logrus.FieldLogger) *API {
	return &API{svc: svc, metrics: m, log: log}
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v0/floating-ips", func(r chi.Router) {
		r.Get("/", a.listFloatingIPsHandler)
		r.Post("/", a.getOrCreateHandler)
		r.Post("/allocate", a.allocateHandler)
		r.Post("/release", a.releaseHandler)
	})

	r.Route("/api/v0/vms", func(r chi.Router) {
		r.Post("/retire-floating-ips", a.retireHandler)
	})

	r.Route("/api/v0/subnets", func(r chi.Router) {
		r.Get("/", a.listSubnetsHandler)
	})

	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}
}

// StatusCode maps an envelope to the HTTP status it is delivered with.
func StatusCode(env service.Envelope) int {
	if env.OK() {
		return http.StatusOK
	}
	detail, ok := env.Return.(service.ErrorDetail)
	if !ok {
		return http.StatusInternalServerError
	}
	switch detail.Kind {
	case "InvalidInput":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "AmbiguousReference":
		return http.StatusConflict
	case "NoExternalNetwork":
		return http.StatusUnprocessableEntity
	case "ConnectionFailed", "PartialRetirementFailure":
		return http.StatusBadGateway
	case "AllocationTimeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeEnvelope(w http.ResponseWriter, env service.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(env))
	if err := json.NewEncoder(w).Encode(env); err != nil {
		a.log.WithError(err).Error("failed to encode envelope")
	}
}

// badRequest answers a request whose body or query could not be read at all.
func (a *API) badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	a.writeEnvelope(w, service.Envelop(service.Result{}, domain.InvalidInputf(format, args...)))
}
