package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/floater/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the floating IP operations over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		api.NewAPI(rt.service(), rt.metrics, rt.log).RegisterRoutes(r)

		// Health check endpoint
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			if _, err := fmt.Fprintln(w, "Floater web service is running!"); err != nil {
				rt.log.WithError(err).Warn("failed to write response")
			}
		})

		srv := &http.Server{
			Addr:              ":" + rt.cfg.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			rt.log.WithField("addr", srv.Addr).Info("starting floater web service")
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			return fmt.Errorf("server failed: %w", err)
		case <-cmd.Context().Done():
		}

		rt.log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	},
}
