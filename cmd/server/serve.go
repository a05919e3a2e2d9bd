package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	handler "waqf-reconciliation-backend/internal/handlers"
	"waqf-reconciliation-backend/internal/routes"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			r := gin.New()
			r.Use(gin.Recovery())
			// CORS config
			r.Use(cors.New(cors.Config{
				AllowOrigins:     a.cnf.Server.CORSOrigins,
				AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
				AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
				ExposeHeaders:    []string{"Content-Length"},
				AllowCredentials: true,
				MaxAge:           12 * time.Hour,
			}))

			routes.RegisterRoutes(r, routes.Handlers{
				Reconciliation: handler.NewReconciliationHandler(a.reconciliation),
				Ledger:         handler.NewLedgerHandler(a.ledger),
				Distribution:   handler.NewDistributionHandler(a.distribution),
			}, a.cnf.RateLimit)

			srv := &http.Server{
				Addr:              ":" + a.cnf.Server.Port,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logrus.WithField("port", a.cnf.Server.Port).Info("starting HTTP server")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logrus.Info("shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
