package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sigs.k8s.io/yaml"

	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/repository"
)

// Document is an inventory file: providers with their tenants, networks,
// subnets and VMs.
type Document struct {
	Providers []ProviderSpec `json:"providers"`
}

type ProviderSpec struct {
	Name             string        `json:"name"`
	Hostname         string        `json:"hostname"`
	Port             int           `json:"port,omitempty"`
	SecurityProtocol string        `json:"security_protocol,omitempty"`
	APIVersion       string        `json:"api_version,omitempty"`
	Region           string        `json:"region,omitempty"`
	DomainName       string        `json:"domain_name,omitempty"`
	UserID           string        `json:"userid"`
	Password         string        `json:"password"`
	Tenants          []TenantSpec  `json:"tenants,omitempty"`
	Networks         []NetworkSpec `json:"networks,omitempty"`
	VMs              []VMSpec      `json:"vms,omitempty"`
}

type TenantSpec struct {
	Name   string `json:"name"`
	EMSRef string `json:"ems_ref"`
}

type NetworkSpec struct {
	Name     string       `json:"name"`
	External bool         `json:"external,omitempty"`
	EMSRef   string       `json:"ems_ref"`
	Subnets  []SubnetSpec `json:"subnets,omitempty"`
}

type SubnetSpec struct {
	Name   string `json:"name"`
	CIDR   string `json:"cidr"`
	EMSRef string `json:"ems_ref,omitempty"`
}

// VMSpec names its tenant and networks by name within the provider.
type VMSpec struct {
	Name     string   `json:"name"`
	Tenant   string   `json:"tenant,omitempty"`
	EMSRef   string   `json:"ems_ref"`
	Networks []string `json:"networks,omitempty"`
}

// Summary counts the records written by an import.
type Summary struct {
	Providers int `json:"providers"`
	Tenants   int `json:"tenants"`
	Networks  int `json:"networks"`
	Subnets   int `json:"subnets"`
	VMs       int `json:"vms"`
}

// Parse decodes a YAML (or JSON) inventory document.
func Parse(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read inventory: %w", err)
	}
	var doc Document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return Document{}, domain.InvalidInputf("malformed inventory: %v", err)
	}
	return doc, nil
}

// Import loads the document in r into store. Existing records are matched by
// provider name and control-plane ids, so importing the same document twice
// updates rather than duplicates.
func Import(ctx context.Context, r io.Reader, store *repository.Store) (Summary, error) {
	doc, err := Parse(r)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, ps := range doc.Providers {
		if err := importProvider(ctx, store, ps, &summary); err != nil {
			return summary, fmt.Errorf("provider %s: %w", ps.Name, err)
		}
	}
	return summary, nil
}

func importProvider(ctx context.Context, store *repository.Store, ps ProviderSpec, summary *Summary) error {
	provider := domain.Provider{
		Name:             ps.Name,
		Hostname:         ps.Hostname,
		Port:             ps.Port,
		SecurityProtocol: ps.SecurityProtocol,
		APIVersion:       ps.APIVersion,
		Region:           ps.Region,
		DomainName:       ps.DomainName,
		UserID:           ps.UserID,
		Password:         ps.Password,
	}
	existing, err := store.Providers.FindByName(ctx, ps.Name)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		provider.ID = existing[0].ID
	}
	if provider, err = store.Providers.Save(ctx, provider); err != nil {
		return err
	}
	summary.Providers++

	tenants := map[string]int64{}
	for _, ts := range ps.Tenants {
		tenant := domain.CloudTenant{Name: ts.Name, ProviderID: provider.ID, ExternalRef: ts.EMSRef}
		if ts.EMSRef != "" {
			found, err := store.Tenants.FindByExternalRef(ctx, provider.ID, ts.EMSRef)
			if err != nil && !isNotFound(err) {
				return err
			}
			tenant.ID = found.ID
		}
		if tenant, err = store.Tenants.Save(ctx, tenant); err != nil {
			return err
		}
		tenants[tenant.Name] = tenant.ID
		summary.Tenants++
	}

	networks := map[string]int64{}
	for _, ns := range ps.Networks {
		network := domain.CloudNetwork{Name: ns.Name, ProviderID: provider.ID, External: ns.External, ExternalRef: ns.EMSRef}
		if ns.EMSRef != "" {
			found, err := store.Networks.FindByExternalRef(ctx, provider.ID, ns.EMSRef)
			if err != nil && !isNotFound(err) {
				return err
			}
			network.ID = found.ID
		}
		if network, err = store.Networks.Save(ctx, network); err != nil {
			return err
		}
		networks[network.Name] = network.ID
		summary.Networks++

		for _, ss := range ns.Subnets {
			subnet := domain.CloudSubnet{Name: ss.Name, CIDR: ss.CIDR, NetworkID: network.ID, ExternalRef: ss.EMSRef}
			found, err := store.Subnets.FindByNetworkAndName(ctx, network.ID, ss.Name)
			if err != nil {
				return err
			}
			if len(found) > 0 {
				subnet.ID = found[0].ID
			}
			if _, err := store.Subnets.Save(ctx, subnet); err != nil {
				return err
			}
			summary.Subnets++
		}
	}

	for _, vs := range ps.VMs {
		vm := domain.VirtualMachine{Name: vs.Name, ProviderID: provider.ID, ExternalRef: vs.EMSRef}
		if vs.Tenant != "" {
			id, ok := tenants[vs.Tenant]
			if !ok {
				return domain.InvalidInputf("VM %s names unknown tenant %q", vs.Name, vs.Tenant)
			}
			vm.TenantID = &id
		}

		found, err := store.VMs.FindByFilter(ctx, repository.VMFilter{Name: vs.Name, ProviderID: provider.ID})
		if err != nil {
			return err
		}
		for _, f := range found {
			if f.ExternalRef == vs.EMSRef {
				vm.ID = f.ID
			}
		}
		if vm, err = store.VMs.Save(ctx, vm); err != nil {
			return err
		}
		summary.VMs++

		for _, name := range vs.Networks {
			networkID, ok := networks[name]
			if !ok {
				return domain.InvalidInputf("VM %s names unknown network %q", vs.Name, name)
			}
			if err := store.Networks.AddVM(ctx, networkID, vm.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
