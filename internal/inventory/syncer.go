// Package inventory keeps the record store in step with the control plane
// and loads inventory documents into it.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/floater/internal/cloud"
	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/repository"
)

// Syncer refreshes floating IP records from the control plane.
type Syncer struct {
	connector cloud.Connector
	store     *repository.Store
	log       logrus.FieldLogger
}

// NewSyncer creates a syncer
func NewSyncer(connector cloud.Connector, store *repository.Store, log logrus.FieldLogger) *Syncer {
	return &Syncer{connector: connector, store: store, log: log}
}

// Refresh lists the floating IPs visible to tenant and upserts them by
// control-plane id. Floating network and project are mapped to records by
// their control-plane ids; entries that map to nothing are skipped. The
// tenant's records that the control plane no longer reports are removed.
func (s *Syncer) Refresh(ctx context.Context, provider domain.Provider, tenant domain.CloudTenant) error {
	log := s.log.WithFields(logrus.Fields{"provider": provider.Name, "tenant": tenant.Name})

	nc, err := s.connector.Network(ctx, provider, tenant.Name)
	if err != nil {
		return err
	}
	fips, err := nc.ListFloatingIPs(ctx, "")
	if err != nil {
		return err
	}

	keep := make([]string, 0, len(fips))
	upserted := 0
	for _, fip := range fips {
		record, ok, err := s.record(ctx, provider, tenant, fip)
		if err != nil {
			return err
		}
		if !ok {
			log.WithField("address", fip.Address).Debug("skipping floating IP on an unknown network or project")
			continue
		}
		if _, err := s.store.FloatingIPs.UpsertByExternalRef(ctx, record); err != nil {
			return fmt.Errorf("failed to store floating IP %s: %w", fip.Address, err)
		}
		keep = append(keep, fip.ID)
		upserted++
	}

	removed, err := s.store.FloatingIPs.DeleteStale(ctx, tenant.ID, keep)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"upserted": upserted, "removed": removed}).Info("refreshed floating IPs")
	return nil
}

func (s *Syncer) record(ctx context.Context, provider domain.Provider, tenant domain.CloudTenant, fip cloud.FloatingIP) (domain.FloatingIP, bool, error) {
	network, err := s.store.Networks.FindByExternalRef(ctx, provider.ID, fip.FloatingNetworkID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.FloatingIP{}, false, nil
	}
	if err != nil {
		return domain.FloatingIP{}, false, err
	}

	owner := tenant
	if fip.ProjectID != "" && fip.ProjectID != tenant.ExternalRef {
		owner, err = s.store.Tenants.FindByExternalRef(ctx, provider.ID, fip.ProjectID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.FloatingIP{}, false, nil
		}
		if err != nil {
			return domain.FloatingIP{}, false, err
		}
	}

	status := domain.FloatingIPStatus(fip.Status)
	if status == "" {
		status = domain.FloatingIPDown
	}
	record := domain.FloatingIP{
		Address:        fip.Address,
		NetworkID:      network.ID,
		TenantID:       owner.ID,
		FixedIPAddress: fip.FixedIPAddress,
		Status:         status,
		ExternalRef:    fip.ID,
	}

	// The control plane reports ports, not instances, so a bound address
	// keeps whichever VM it was already recorded against.
	if fip.PortID != "" {
		existing, err := s.store.FloatingIPs.FindByFilter(ctx, repository.FloatingIPFilter{Address: fip.Address})
		if err != nil {
			return domain.FloatingIP{}, false, err
		}
		for _, e := range existing {
			if e.ExternalRef == fip.ID {
				record.VMID = e.VMID
			}
		}
	}
	return record, true, nil
}
