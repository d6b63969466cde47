package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jbweber/homelab/floater/internal/resolver"
	"github.com/jbweber/homelab/floater/internal/service"
)

// refFlags registers a --<kind>-name / --<kind>-id pair.
func refFlags(flags *pflag.FlagSet, kind, what string) {
	flags.String(kind+"-name", "", what+" name")
	flags.Int64(kind+"-id", 0, what+" record id")
}

func getRef(flags *pflag.FlagSet, kind string) resolver.Ref {
	name, _ := flags.GetString(kind + "-name")
	id, _ := flags.GetInt64(kind + "-id")
	return resolver.Ref{Name: name, ID: id}
}

func vmFlags(flags *pflag.FlagSet) {
	refFlags(flags, "vm", "VM")
	refFlags(flags, "provider", "Provider")
	refFlags(flags, "network", "Attached network")
	refFlags(flags, "tenant", "Tenant")
}

type logFielder interface {
	LogFields() logrus.Fields
}

// runOperation builds the service, runs op under name and prints its envelope.
func runOperation(cmd *cobra.Command, name string, opts logFielder, op func(ctx context.Context, svc *service.Service) (service.Result, error)) error {
	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := rt.service()
	env := svc.Run(cmd.Context(), name, opts.LogFields(), func(ctx context.Context) (service.Result, error) {
		return op(ctx, svc)
	})
	return printEnvelope(cmd, env)
}

var (
	allocateCmd = &cobra.Command{
		Use:   service.OpAllocate,
		Short: "Allocate a floating IP and associate it with a VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			pool, err := flags.GetString("pool")
			if err != nil {
				return err
			}
			opts := service.AllocateOptions{
				VM:       getRef(flags, "vm"),
				Provider: getRef(flags, "provider"),
				Network:  getRef(flags, "network"),
				Tenant:   getRef(flags, "tenant"),
				Pool:     pool,
			}
			return runOperation(cmd, service.OpAllocate, opts, func(ctx context.Context, svc *service.Service) (service.Result, error) {
				return svc.AllocateAndAssociate(ctx, opts)
			})
		},
	}

	getOrCreateCmd = &cobra.Command{
		Use:   service.OpGetOrCreate,
		Short: "Allocate floating IPs for a tenant and wait until they are recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			tenantID, err := flags.GetInt64("tenant-id")
			if err != nil {
				return err
			}
			networkID, err := flags.GetInt64("network-id")
			if err != nil {
				return err
			}
			count, err := flags.GetInt("count")
			if err != nil {
				return err
			}
			opts := service.GetOrCreateOptions{TenantID: tenantID, NetworkID: networkID, Count: count}
			return runOperation(cmd, service.OpGetOrCreate, opts, func(ctx context.Context, svc *service.Service) (service.Result, error) {
				return svc.GetOrCreate(ctx, opts)
			})
		},
	}

	listFloatingIPsCmd = &cobra.Command{
		Use:   service.OpListFloatingIPs,
		Short: "List recorded floating IPs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			address, err := flags.GetString("address")
			if err != nil {
				return err
			}
			fipID, err := flags.GetInt64("fip-id")
			if err != nil {
				return err
			}
			opts := service.ListFloatingIPsOptions{
				Tenant:  getRef(flags, "tenant"),
				Network: getRef(flags, "network"),
				Address: resolver.Ref{Name: address, ID: fipID},
			}
			return runOperation(cmd, service.OpListFloatingIPs, opts, func(ctx context.Context, svc *service.Service) (service.Result, error) {
				return svc.ListFloatingIPs(ctx, opts)
			})
		},
	}

	listSubnetsCmd = &cobra.Command{
		Use:   service.OpListSubnets,
		Short: "List recorded subnets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts := service.ListSubnetsOptions{
				Network: getRef(flags, "network"),
				Subnet:  getRef(flags, "subnet"),
			}
			return runOperation(cmd, service.OpListSubnets, opts, func(ctx context.Context, svc *service.Service) (service.Result, error) {
				return svc.ListSubnets(ctx, opts)
			})
		},
	}

	releaseCmd = &cobra.Command{
		Use:   service.OpRelease,
		Short: "Release one floating IP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			address, err := flags.GetString("address")
			if err != nil {
				return err
			}
			fipID, err := flags.GetInt64("fip-id")
			if err != nil {
				return err
			}
			opts := service.ReleaseOptions{Address: resolver.Ref{Name: address, ID: fipID}}
			return runOperation(cmd, service.OpRelease, opts, func(ctx context.Context, svc *service.Service) (service.Result, error) {
				return svc.Release(ctx, opts)
			})
		},
	}

	retireCmd = &cobra.Command{
		Use:   service.OpRetire,
		Short: "Disassociate and release every floating IP on a VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts := service.RetireOptions{
				VM:       getRef(flags, "vm"),
				Provider: getRef(flags, "provider"),
				Network:  getRef(flags, "network"),
				Tenant:   getRef(flags, "tenant"),
			}
			return runOperation(cmd, service.OpRetire, opts, func(ctx context.Context, svc *service.Service) (service.Result, error) {
				return svc.Retire(ctx, opts)
			})
		},
	}
)

func init() {
	vmFlags(allocateCmd.Flags())
	allocateCmd.Flags().String("pool", "", "External network to allocate from (default: first external network)")

	getOrCreateCmd.Flags().Int64("tenant-id", 0, "Tenant record id")
	getOrCreateCmd.Flags().Int64("network-id", 0, "Floating network record id")
	getOrCreateCmd.Flags().Int("count", 1, "Number of floating IPs")

	refFlags(listFloatingIPsCmd.Flags(), "tenant", "Tenant")
	refFlags(listFloatingIPsCmd.Flags(), "network", "Floating network")
	listFloatingIPsCmd.Flags().String("address", "", "Floating address")
	listFloatingIPsCmd.Flags().Int64("fip-id", 0, "Floating IP record id")

	refFlags(listSubnetsCmd.Flags(), "network", "Network")
	refFlags(listSubnetsCmd.Flags(), "subnet", "Subnet")

	releaseCmd.Flags().String("address", "", "Floating address")
	releaseCmd.Flags().Int64("fip-id", 0, "Floating IP record id")

	vmFlags(retireCmd.Flags())
}
