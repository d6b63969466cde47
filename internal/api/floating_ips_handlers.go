package api

import (
	"context"
	"net/http"

	"github.com/jbweber/homelab/floater/internal/resolver"
	"github.com/jbweber/homelab/floater/internal/service"
)

// allocateHandler handles POST /api/v0/floating-ips/allocate.
//
// Request: AllocateRequest. Allocates one floating IP for the VM and binds it.
// Response: envelope whose status echoes the associate call's status code.
func (a *API) allocateHandler(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "%v", err)
		return
	}

	q := req.query()
	opts := service.AllocateOptions{VM: q.VM, Provider: q.Provider, Network: q.Network, Tenant: q.Tenant, Pool: req.Pool}
	a.writeEnvelope(w, a.svc.Run(r.Context(), service.OpAllocate, opts.LogFields(), func(ctx context.Context) (service.Result, error) {
		return a.svc.AllocateAndAssociate(ctx, opts)
	}))
}

// getOrCreateHandler handles POST /api/v0/floating-ips.
//
// Request: GetOrCreateRequest. Blocks until every address has a durable record.
// Response: envelope mapping each address to its record id.
func (a *API) getOrCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req GetOrCreateRequest
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "%v", err)
		return
	}

	opts := service.GetOrCreateOptions{TenantID: req.TenantID, NetworkID: req.NetworkID, Count: 1}
	if req.Count != nil {
		opts.Count = *req.Count
	}
	a.writeEnvelope(w, a.svc.Run(r.Context(), service.OpGetOrCreate, opts.LogFields(), func(ctx context.Context) (service.Result, error) {
		return a.svc.GetOrCreate(ctx, opts)
	}))
}

// listFloatingIPsHandler handles GET /api/v0/floating-ips.
//
// Query: tenant_name|tenant_id, network_name|network_id, address|fip_id.
func (a *API) listFloatingIPsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts service.ListFloatingIPsOptions
	var err error
	if opts.Tenant, err = queryRef(q, "tenant_name", "tenant_id"); err != nil {
		a.badRequest(w, "%v", err)
		return
	}
	if opts.Network, err = queryRef(q, "network_name", "network_id"); err != nil {
		a.badRequest(w, "%v", err)
		return
	}
	if opts.Address, err = queryRef(q, "address", "fip_id"); err != nil {
		a.badRequest(w, "%v", err)
		return
	}

	a.writeEnvelope(w, a.svc.Run(r.Context(), service.OpListFloatingIPs, opts.LogFields(), func(ctx context.Context) (service.Result, error) {
		return a.svc.ListFloatingIPs(ctx, opts)
	}))
}

// releaseHandler handles POST /api/v0/floating-ips/release.
//
// Request: ReleaseRequest, address or fip_id.
// Response: envelope whose status echoes the release call's status code.
func (a *API) releaseHandler(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "%v", err)
		return
	}

	opts := service.ReleaseOptions{Address: resolver.Ref{Name: req.Address, ID: req.FipID}}
	a.writeEnvelope(w, a.svc.Run(r.Context(), service.OpRelease, opts.LogFields(), func(ctx context.Context) (service.Result, error) {
		return a.svc.Release(ctx, opts)
	}))
}
