package api

import (
	"context"
	"net/http"

	"github.com/jbweber/homelab/floater/internal/service"
)

// listSubnetsHandler handles GET /api/v0/subnets.
//
// Query: network_name|network_id, subnet_name|subnet_id.
func (a *API) listSubnetsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts service.ListSubnetsOptions
	var err error
	if opts.Network, err = queryRef(q, "network_name", "network_id"); err != nil {
		a.badRequest(w, "%v", err)
		return
	}
	if opts.Subnet, err = queryRef(q, "subnet_name", "subnet_id"); err != nil {
		a.badRequest(w, "%v", err)
		return
	}

	a.writeEnvelope(w, a.svc.Run(r.Context(), service.OpListSubnets, opts.LogFields(), func(ctx context.Context) (service.Result, error) {
		return a.svc.ListSubnets(ctx, opts)
	}))
}
