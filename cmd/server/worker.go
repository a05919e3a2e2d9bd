package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"waqf-reconciliation-backend/internal/queue"
)

func workerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "start the distribution worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			srv := queue.NewServer(a.cnf.Redis, a.cnf.Queue.Concurrency)
			logrus.WithField("concurrency", a.cnf.Queue.Concurrency).Info("starting distribution worker")
			// Run blocks until SIGTERM or SIGINT.
			return srv.Run(queue.NewServeMux(a.distribution))
		},
	}
}
