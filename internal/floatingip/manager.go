package floatingip

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/floater/internal/cloud"
	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/metrics"
	"github.com/jbweber/homelab/floater/internal/repository"
)

// Association is the outcome of binding an address to a VM.
type Association struct {
	Status     int
	Allocation domain.Allocation
	VM         domain.VirtualMachine
}

// Manager binds floating addresses to VMs and retires them.
type Manager struct {
	vms     repository.VMRepository
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// NewManager creates a manager that keeps the VM association cache in vms
func NewManager(vms repository.VMRepository, m *metrics.Metrics, log logrus.FieldLogger) *Manager {
	return &Manager{vms: vms, metrics: m, log: log}
}

// Associate binds the allocated address to vm, caches the pair on the VM and
// returns the refreshed VM with the associate call's status code.
func (m *Manager) Associate(ctx context.Context, cc cloud.ComputeClient, vm domain.VirtualMachine, allocation domain.Allocation) (Association, error) {
	log := m.log.WithFields(logrus.Fields{"vm": vm.Name, "address": allocation.Address})

	status, err := cc.AssociateAddress(ctx, vm.ExternalRef, allocation.Address)
	if err != nil {
		return Association{Status: status}, err
	}
	log.WithField("status", status).Info("associated floating IP")

	if err := m.vms.SetFloatingAssociation(ctx, vm.ID, domain.FloatingAssociation{
		Address: allocation.Address,
		ID:      allocation.ExternalRef,
	}); err != nil {
		return Association{Status: status}, fmt.Errorf("failed to cache association on VM %s: %w", vm.Name, err)
	}

	refreshed, err := m.vms.FindByID(ctx, vm.ID)
	if err != nil {
		return Association{Status: status}, fmt.Errorf("failed to reload VM %s: %w", vm.Name, err)
	}

	return Association{Status: status, Allocation: allocation, VM: refreshed}, nil
}

// FloatingAddresses reads the floating addresses bound to vm from the control
// plane. The VM's cached association is not consulted.
func FloatingAddresses(ctx context.Context, cc cloud.ComputeClient, vm domain.VirtualMachine) ([]string, error) {
	addresses, err := cc.ServerAddresses(ctx, vm.ExternalRef)
	if err != nil {
		return nil, err
	}
	var floating []string
	seen := map[string]bool{}
	for _, a := range addresses {
		if a.Type != cloud.AddressTypeFloating || seen[a.Address] {
			continue
		}
		seen[a.Address] = true
		floating = append(floating, a.Address)
	}
	return floating, nil
}

// Retirement is the outcome of retiring a VM's floating addresses.
type Retirement struct {
	// Outcomes holds one entry per address the control plane reported.
	Outcomes map[string]string
	// VM is the VM as recorded after its cache was cleared.
	VM domain.VirtualMachine
}

// Retire disassociates and releases every floating address the control
// plane reports on vm. Each address is handled independently. If any address
// could not be freed the error is a *domain.RetirementError carrying the
// same outcomes, even when clearing the cache fails as well.
func (m *Manager) Retire(ctx context.Context, cc cloud.ComputeClient, nc cloud.NetworkClient, vm domain.VirtualMachine) (Retirement, error) {
	log := m.log.WithField("vm", vm.Name)

	addresses, err := FloatingAddresses(ctx, cc, vm)
	if err != nil {
		return Retirement{VM: vm}, err
	}
	log.WithField("addresses", addresses).Info("retiring floating IPs")

	outcomes := make(map[string]string, len(addresses))
	failed := false
	for _, address := range addresses {
		if err := m.release(ctx, nc, address); err != nil {
			log.WithError(err).WithField("address", address).Error("failed to retire floating IP")
			outcomes[address] = "Failed: " + err.Error()
			failed = true
			m.metrics.Retired("failed")
			continue
		}
		outcomes[address] = domain.OutcomeReleased
		m.metrics.Retired("released")
	}
	retirement := Retirement{Outcomes: outcomes, VM: vm}

	// On partial failure the cache is only cleared when the cached address is
	// known to be gone.
	cached := vm.Floating.Address
	if !failed || (cached != "" && outcomes[cached] == domain.OutcomeReleased) {
		refreshed, err := m.clearCache(ctx, vm)
		switch {
		case err == nil:
			retirement.VM = refreshed
		case failed:
			log.WithError(err).Error("failed to clear floating association")
		default:
			return retirement, err
		}
	}

	if failed {
		return retirement, &domain.RetirementError{Outcomes: outcomes}
	}
	return retirement, nil
}

// clearCache drops vm's cached association and reloads the VM record.
func (m *Manager) clearCache(ctx context.Context, vm domain.VirtualMachine) (domain.VirtualMachine, error) {
	if err := m.vms.ClearFloatingAssociation(ctx, vm.ID); err != nil {
		return vm, fmt.Errorf("failed to clear association on VM %s: %w", vm.Name, err)
	}
	refreshed, err := m.vms.FindByID(ctx, vm.ID)
	if err != nil {
		return vm, fmt.Errorf("failed to reload VM %s: %w", vm.Name, err)
	}
	return refreshed, nil
}

func (m *Manager) release(ctx context.Context, nc cloud.NetworkClient, address string) error {
	id, err := lookupID(ctx, nc, address)
	if err != nil {
		return err
	}
	if err := nc.DisassociateFloatingIP(ctx, id); err != nil {
		return err
	}
	_, err = nc.ReleaseFloatingIP(ctx, id)
	return err
}

// Release frees one floating address by address and returns the release
// call's status code.
func (m *Manager) Release(ctx context.Context, nc cloud.NetworkClient, address string) (int, error) {
	id, err := lookupID(ctx, nc, address)
	if err != nil {
		return 0, err
	}
	status, err := nc.ReleaseFloatingIP(ctx, id)
	if err != nil {
		return status, err
	}
	m.log.WithFields(logrus.Fields{"address": address, "status": status}).Info("released floating IP")
	return status, nil
}

func lookupID(ctx context.Context, nc cloud.NetworkClient, address string) (string, error) {
	fips, err := nc.ListFloatingIPs(ctx, address)
	if err != nil {
		return "", err
	}
	for _, fip := range fips {
		if fip.Address == address {
			return fip.ID, nil
		}
	}
	return "", domain.NotFoundf("floating IP %s on the control plane", address)
}
