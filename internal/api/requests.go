package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jbweber/homelab/floater/internal/resolver"
)

// VMSelector names a VM and optionally narrows a name lookup.
type VMSelector struct {
	VMName       string `json:"vm_name,omitempty"`
	VMID         int64  `json:"vm_id,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	ProviderID   int64  `json:"provider_id,omitempty"`
	NetworkName  string `json:"network_name,omitempty"`
	NetworkID    int64  `json:"network_id,omitempty"`
	TenantName   string `json:"tenant_name,omitempty"`
	TenantID     int64  `json:"tenant_id,omitempty"`
}

func (s VMSelector) query() resolver.VMQuery {
	return resolver.VMQuery{
		VM:       resolver.Ref{Name: s.VMName, ID: s.VMID},
		Provider: resolver.Ref{Name: s.ProviderName, ID: s.ProviderID},
		Network:  resolver.Ref{Name: s.NetworkName, ID: s.NetworkID},
		Tenant:   resolver.Ref{Name: s.TenantName, ID: s.TenantID},
	}
}

// AllocateRequest is the body of POST /api/v0/floating-ips/allocate
type AllocateRequest struct {
	VMSelector
	Pool string `json:"pool,omitempty"`
}

// GetOrCreateRequest is the body of POST /api/v0/floating-ips. Count defaults to 1.
type GetOrCreateRequest struct {
	TenantID  int64 `json:"tenant_id"`
	NetworkID int64 `json:"network_id"`
	Count     *int  `json:"count,omitempty"`
}

// ReleaseRequest is the body of POST /api/v0/floating-ips/release
type ReleaseRequest struct {
	Address string `json:"address,omitempty"`
	FipID   int64  `json:"fip_id,omitempty"`
}

// RetireRequest is the body of POST /api/v0/vms/retire-floating-ips
type RetireRequest struct {
	VMSelector
}

// decode reads a JSON body, rejecting fields the operation does not know.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// queryRef reads a name/id pair of query parameters.
func queryRef(q url.Values, nameKey, idKey string) (resolver.Ref, error) {
	ref := resolver.Ref{Name: q.Get(nameKey)}
	if raw := q.Get(idKey); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return resolver.Ref{}, fmt.Errorf("invalid %s %q", idKey, raw)
		}
		ref.ID = id
	}
	return ref, nil
}
