package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"waqf-reconciliation-backend/internal/config"
	"waqf-reconciliation-backend/internal/services/distribution"
)

// distributeCommand runs a distribution in the foreground, without the
// database or the queue. Progress is kept in a state file so an interrupted
// run resumes where it stopped.
func distributeCommand() *cobra.Command {
	var (
		id        string
		batchSize int
		statePath string
		retry     bool
	)
	cmd := &cobra.Command{
		Use:   "distribute <recipients.csv>",
		Short: "pay a recipients file through the payment gateway",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cnf, err := config.LoadOffline()
			if err != nil {
				return err
			}
			if err := config.InitLogger(cnf.Log); err != nil {
				return err
			}
			// stdout carries the JSON summary.
			logrus.SetOutput(cmd.ErrOrStderr())
			if cnf.Gateway.BaseURL == "" {
				return errors.New("payment gateway URL is required (WAQF_GATEWAY_URL)")
			}
			if batchSize == 0 {
				batchSize = cnf.Distribution.BatchSize
			}

			job, err := loadOrCreateJob(statePath, args, id, batchSize)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bar := progressbar.NewOptions(job.TotalRecipients(),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowCount(),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Paying recipients"),
			)
			sum := job.Summary()
			_ = bar.Set(sum.ProcessedItems)

			proc := distribution.NewProcessor(
				distribution.NewHTTPGateway(cnf.Gateway.BaseURL, cnf.Gateway.APIKey, cnf.Gateway.Timeout),
				processorConfig(cnf.Distribution),
				distribution.WithItemHook(func(distribution.ItemResult) { _ = bar.Add(1) }),
				distribution.WithBatchHook(func(job *distribution.Job, _ distribution.Batch) {
					if err := saveJobState(statePath, job); err != nil {
						logrus.WithError(err).Warn("failed to save distribution state")
					}
				}),
			)

			if retry {
				err = proc.RetryFailedBatches(ctx, job)
			} else {
				err = proc.Run(ctx, job)
			}
			_ = bar.Finish()
			if saveErr := saveJobState(statePath, job); saveErr != nil {
				logrus.WithError(saveErr).Warn("failed to save distribution state")
			}
			if err != nil && ctx.Err() == nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job.Summary())
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "distribution id, used in payment idempotency keys")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "recipients per batch")
	cmd.Flags().StringVar(&statePath, "state", "distribution-state.json", "file holding the progress of the run")
	cmd.Flags().BoolVar(&retry, "retry", false, "reprocess the failed batches of a finished run")
	return cmd
}

func loadOrCreateJob(statePath string, args []string, id string, batchSize int) (*distribution.Job, error) {
	raw, err := os.ReadFile(statePath)
	switch {
	case err == nil:
		var state distribution.JobState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("invalid state file %s: %w", statePath, err)
		}
		logrus.WithField("distribution_id", state.ID).Info("resuming distribution from state file")
		return distribution.RestoreJob(state)
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	if len(args) == 0 {
		return nil, errors.New("recipients file is required for a new distribution")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recipients, err := distribution.ReadRecipientsCSV(f)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.New("--id is required for a new distribution")
	}
	return distribution.NewJob(id, recipients, batchSize)
}

func saveJobState(path string, job *distribution.Job) error {
	raw, err := json.MarshalIndent(job.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
