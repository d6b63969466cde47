package api

import (
	"context"
	"net/http"

	"github.com/jbweber/homelab/floater/internal/service"
)

// retireHandler handles POST /api/v0/vms/retire-floating-ips.
//
// Request: RetireRequest. Releases every floating IP the control plane
// reports on the VM. Response: envelope mapping each address to its outcome;
// on partial failure the outcomes are in the error detail.
func (a *API) retireHandler(w http.ResponseWriter, r *http.Request) {
	var req RetireRequest
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "%v", err)
		return
	}

	q := req.query()
	opts := service.RetireOptions{VM: q.VM, Provider: q.Provider, Network: q.Network, Tenant: q.Tenant}
	a.writeEnvelope(w, a.svc.Run(r.Context(), service.OpRetire, opts.LogFields(), func(ctx context.Context) (service.Result, error) {
		return a.svc.Retire(ctx, opts)
	}))
}
