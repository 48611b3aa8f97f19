package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/archive"
	"github.com/panelsim/panelsim/internal/dispatch"
	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/output"
	"github.com/panelsim/panelsim/internal/respondent"
)

var (
	surveyPrefecture  string
	surveyRegion      string
	surveyConcurrency int
	surveyFormat      string
	surveyQuiet       bool
)

var surveyCmd = &cobra.Command{
	Use:   "survey <question>",
	Short: "Ask one question of every matching respondent",
	Long: `Ask one question of every respondent matching the filters.

Answers are printed to stderr as they complete, then summarized on stdout.
Requests are paced by the per-minute quota, so large panels take a while;
Ctrl+C stops the run and prints what has completed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(surveyFormat)
		if err != nil {
			return err
		}
		cfg := loadConfig()
		if surveyConcurrency > 0 {
			cfg.Dispatch.Concurrency = surveyConcurrency
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := buildRuntime(ctx, cfg, runtimeOptions{})
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to prepare survey", err)
		}
		defer rt.Close()

		question := strings.Join(args, " ")
		stream, err := rt.survey.StartBulk(ctx, question, respondent.Filter{
			Prefecture: surveyPrefecture,
			Region:     surveyRegion,
		})
		if err != nil {
			return err
		}

		plan := stream.Plan
		fmt.Fprintf(os.Stderr, "Asking %d respondents (batch %s, concurrency %d", plan.Total, plan.BatchID, plan.Effective)
		if plan.Clamped() {
			fmt.Fprintf(os.Stderr, ", lowered from %d by the %d RPM limit", plan.Requested, rt.tracker.RPMLimit())
		}
		fmt.Fprintln(os.Stderr, ")")

		records := collectLive(plan, stream.Outcomes())
		if ctx.Err() != nil {
			observability.CLILogger.Warn("Survey interrupted",
				zap.Int("completed", len(records)), zap.Int("total", plan.Total))
		}
		if !waitObserved(stream, observerDrainTimeout) {
			observability.CLILogger.Warn("Archive and stats writes still pending at exit",
				zap.String("batch_id", plan.BatchID))
		}

		rendered, err := output.Answers(format, records)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

// observerDrainTimeout caps how long the CLI waits for archive and stats
// writes before the runtime is closed.
const observerDrainTimeout = 15 * time.Second

// waitObserved reports whether every observer finished within limit.
func waitObserved(stream *dispatch.Stream, limit time.Duration) bool {
	t := time.NewTimer(limit)
	defer t.Stop()
	select {
	case <-stream.Observed():
		return true
	case <-t.C:
		return false
	}
}

// collectLive drains outcomes, echoing each as it arrives.
func collectLive(plan dispatch.Plan, outcomes <-chan dispatch.Outcome) []archive.OutcomeRecord {
	records := make([]archive.OutcomeRecord, 0, plan.Total)
	for o := range outcomes {
		if !surveyQuiet {
			fmt.Fprintln(os.Stderr, output.ProgressLine(o))
		}
		records = append(records, archive.RecordFromOutcome(plan.BatchID, o))
	}
	return records
}

func init() {
	rootCmd.AddCommand(surveyCmd)

	surveyCmd.Flags().StringVar(&surveyPrefecture, "prefecture", "", "only ask respondents from this prefecture")
	surveyCmd.Flags().StringVar(&surveyRegion, "region", "", "only ask respondents from this region")
	surveyCmd.Flags().IntVarP(&surveyConcurrency, "concurrency", "c", 0, "requested concurrency (default from dispatch.concurrency)")
	surveyCmd.Flags().StringVarP(&surveyFormat, "format", "f", "table", "output format: table, markdown or json")
	surveyCmd.Flags().BoolVarP(&surveyQuiet, "quiet", "q", false, "do not print answers as they arrive")
}
