// Command carboncore operates the emissions allocation engine: validating
// allocations, running aggregations, rebalancing shared scopes, and ingesting
// measurements from Kafka.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carboncore/internal/blob"
	"carboncore/internal/core"
	"carboncore/internal/ingest"
	"carboncore/internal/reports"

	"github.com/spf13/cobra"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	rootCmd := &cobra.Command{
		Use:           "carboncore",
		Short:         "Emissions allocation and aggregation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(aggregateCmd())
	rootCmd.AddCommand(distributeCmd())
	rootCmd.AddCommand(ingestCmd(log))

	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func openService() (*core.Service, error) {
	store, err := core.OpenPersistentStore(core.DefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return core.NewService(store,
		core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("carboncore_service")),
	), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check allocation integrity across the node graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			report, err := svc.Validate(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if !report.IsValid {
				return fmt.Errorf("%d allocation error(s)", report.ErrorCount)
			}
			return nil
		},
	}
}

func aggregateCmd() *cobra.Command {
	var (
		fromStr string
		toStr   string
		tiers   []int
		export  bool
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Fold measurements into an allocation-weighted summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := core.AggregateFilter{}
			var err error
			if filter.From, err = parseTimeFlag(fromStr); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if filter.To, err = parseTimeFlag(toStr); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			for _, t := range tiers {
				tier := core.ScopeTier(t)
				if !tier.Valid() {
					return fmt.Errorf("invalid tier %d", t)
				}
				filter.Tiers = append(filter.Tiers, tier)
			}

			svc, err := openService()
			if err != nil {
				return err
			}
			summary := svc.Aggregate(cmd.Context(), filter)
			if err := printJSON(summary); err != nil {
				return err
			}
			if summary.HasErrors {
				return fmt.Errorf("aggregation failed: %s", summary.ErrorMessage)
			}
			if !export {
				return nil
			}

			store, err := blob.Open(cmd.Context())
			if err != nil {
				return fmt.Errorf("open blob store: %w", err)
			}
			archived, err := reports.NewExporter(store).ExportSummary(cmd.Context(), summary)
			if err != nil {
				return err
			}
			slog.Info("summary archived",
				slog.String("run_id", archived.RunID),
				slog.String("summary_key", archived.SummaryKey))
			return nil
		},
	}
	cmd.Flags().StringVar(&fromStr, "from", "", "inclusive lower time bound (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "", "exclusive upper time bound (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().IntSliceVar(&tiers, "tier", nil, "restrict to tiers (repeatable)")
	cmd.Flags().BoolVar(&export, "export", false, "archive the summary to blob storage")
	return cmd
}

func distributeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distribute <scope-identifier>",
		Short: "Split a shared scope's allocation evenly across its nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			assignments, _, err := svc.AutoDistribute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(assignments)
		},
	}
}

func ingestCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Consume measurements from Kafka until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			consumer := ingest.NewConsumer(ingest.ConfigFromEnv(), svc, log)
			defer func() { _ = consumer.Close() }()
			log.Info("ingest started")
			return consumer.Run(ctx)
		},
	}
}

func parseTimeFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
