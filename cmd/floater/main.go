package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/floater/internal/cloud"
	"github.com/jbweber/homelab/floater/internal/config"
	"github.com/jbweber/homelab/floater/internal/floatingip"
	"github.com/jbweber/homelab/floater/internal/metrics"
	"github.com/jbweber/homelab/floater/internal/repository"
	"github.com/jbweber/homelab/floater/internal/service"
)

// errFailedEnvelope marks a command whose envelope was already printed.
var errFailedEnvelope = errors.New("operation failed")

var mainCmd = &cobra.Command{
	Use:           "floater",
	Short:         "Allocate, associate and retire OpenStack floating IPs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	mainCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	mainCmd.AddCommand(
		serveCmd,
		migrateCmd,
		importCmd,
		allocateCmd,
		getOrCreateCmd,
		listFloatingIPsCmd,
		listSubnetsCmd,
		releaseCmd,
		retireCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mainCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailedEnvelope) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// runtime is everything a command needs, built from the loaded config.
type runtime struct {
	cfg     *config.Config
	log     *logrus.Logger
	db      *sql.DB
	store   *repository.Store
	metrics *metrics.Metrics
}

func setup(cmd *cobra.Command) (*runtime, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log := cfg.NewLogger()

	db, err := cfg.InitializeDatabase(log)
	if err != nil {
		return nil, err
	}
	return &runtime{
		cfg:     cfg,
		log:     log,
		db:      db,
		store:   repository.NewStore(db),
		metrics: metrics.New(),
	}, nil
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		rt.log.WithError(err).Warn("failed to close statement cache")
	}
	if err := rt.db.Close(); err != nil {
		rt.log.WithError(err).Warn("failed to close database")
	}
}

func (rt *runtime) service() *service.Service {
	connector := cloud.NewFactory(cloud.Options{
		VerifyPeer: rt.cfg.VerifyPeer,
		Region:     rt.cfg.Region,
		DomainName: rt.cfg.DomainName,
	}, rt.log, rt.metrics)

	return service.New(rt.store, connector, service.Config{
		Allocator: floatingip.Options{
			PollInterval: rt.cfg.PollInterval,
			PollTimeout:  rt.cfg.PollTimeout,
			PollMode:     floatingip.PollMode(rt.cfg.PollMode),
			Rollback:     rt.cfg.Rollback,
		},
	}, rt.metrics, rt.log)
}

// printEnvelope writes env as JSON to stdout and fails the command when the
// envelope does not carry a success.
func printEnvelope(cmd *cobra.Command, env service.Envelope) error {
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if !env.OK() {
		return errFailedEnvelope
	}
	return nil
}
