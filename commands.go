package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/speedrun-hq/speedrun-keeper/pkg/config"
	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
	"github.com/speedrun-hq/speedrun-keeper/pkg/service"
	"github.com/speedrun-hq/speedrun-keeper/pkg/store"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "keeper",
		Short: "Speedrun keeper - automated execution of on-chain trading jobs",
		Long: `Speedrun keeper watches active automation jobs (limit orders, DCA,
TWAP and guarded swaps) and executes them through the keeper contract
when their trigger conditions hold.

Examples:
  keeper run                                # Start the execution service
  keeper submit order.json --owner 0xabc... # Create a job from a strategy
  keeper list                               # List active jobs
  keeper cancel 0x1234...                   # Cancel a job`,
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd(), newSubmitCmd(), newCancelCmd(), newListCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the keeper service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Load configuration from environment variables
			cfg, err := config.LoadConfig()
			if err != nil {
				return errors.Wrap(err, "failed to load configuration")
			}

			// Set up context with cancellation on SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := service.New(ctx, cfg)
			if err != nil {
				return errors.Wrap(err, "failed to create keeper service")
			}
			return svc.Start(ctx)
		},
	}
}

func newSubmitCmd() *cobra.Command {
	var (
		owner     string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <strategy.json|->",
		Short: "Create a job from a strategy document",
		Long: `Create a job from a JSON strategy document. The "type" field selects
the strategy: limit_order, dca, twap or swap. Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			strategy, err := models.ParseStrategy(data)
			if err != nil {
				return err
			}

			now := time.Now()
			var expiresAt *time.Time
			if expiresIn > 0 {
				t := now.Add(expiresIn)
				expiresAt = &t
			}
			job, err := models.NewJob(strategy, owner, now, expiresAt)
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), func(jobs store.JobStore) error {
				if err := jobs.Create(cmd.Context(), job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "address of the job owner")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "expire the job after this duration (0 = never)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel an active job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(jobs store.JobStore) error {
				job, err := jobs.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job.Status.IsTerminal() {
					return errors.Newf("job %s is already %s", job.ID, job.Status)
				}
				if err := job.Transition(models.StatusCancelled, time.Now()); err != nil {
					return err
				}
				if err := jobs.Update(cmd.Context(), job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", job.ID)
				return nil
			})
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(jobs store.JobStore) error {
				active, err := jobs.ListActive(cmd.Context())
				if err != nil {
					return err
				}
				return printJobs(cmd.OutOrStdout(), active)
			})
		},
	}
}

// withStore opens the configured job store for the duration of fn
func withStore(ctx context.Context, fn func(store.JobStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	jobs, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return errors.Wrap(err, "failed to open job store")
	}
	defer jobs.Close()
	return fn(jobs)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return data, errors.Wrap(err, "failed to read stdin")
	}
	data, err := os.ReadFile(path)
	return data, errors.Wrapf(err, "failed to read %s", path)
}

func printJobs(out io.Writer, jobs []*models.Job) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tPAIR\tAMOUNT\tRETRIES\tLAST ATTEMPT\tEXPIRES")
	for _, job := range jobs {
		lastAttempt, expires := "-", "-"
		if job.LastAttemptAt != nil {
			lastAttempt = job.LastAttemptAt.Format(time.RFC3339)
		}
		if job.ExpiresAt != nil {
			expires = job.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%d\t%s\t%s\n",
			job.ID, job.Type, job.Params.TokenIn, job.Params.TokenOut,
			job.TickAmount(), job.RetryCount, lastAttempt, expires)
	}
	return w.Flush()
}
