package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/floater/internal/inventory"
	"github.com/jbweber/homelab/floater/internal/migrations"
)

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the record store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// opening the database applies pending migrations
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			version, err := migrations.NewMigrator(rt.db).GetCurrentVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}

	importCmd = &cobra.Command{
		Use:   "import <file>",
		Short: "Load providers, tenants, networks, subnets and VMs from a YAML inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			summary, err := inventory.Import(cmd.Context(), f, rt.store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"imported %d providers, %d tenants, %d networks, %d subnets, %d VMs\n",
				summary.Providers, summary.Tenants, summary.Networks, summary.Subnets, summary.VMs)
			return nil
		},
	}
)
