package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"exambridge/internal/bank"
	"exambridge/internal/intercept"
	"exambridge/internal/match"
)

var (
	bankPaths    []string
	bankJSON     bool
	lintDistance int
)

// =============================================================================
// BANK COMMANDS - Inspect and validate the question bank
// =============================================================================

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Inspect the question bank",
}

var bankStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Load the bank and print question counts",
	RunE:  bankStats,
}

var bankLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Report near-duplicate questions",
	Long: `Lists question pairs whose normalized stems are within --distance edits of
each other. Pairs with different answers are ambiguous and marked CONFLICT;
the matcher can only tell them apart by their options.`,
	RunE: bankLint,
}

var bankCheckCmd = &cobra.Command{
	Use:   "check [distribute.json]",
	Short: "Match a captured distribute response against the bank",
	Long: `Runs the matcher over the subjects of a saved distribute response and
prints the resolved answers without touching any exam.`,
	Args: cobra.ExactArgs(1),
	RunE: bankCheck,
}

func init() {
	bankCmd.PersistentFlags().StringSliceVar(&bankPaths, "path", nil, "Bank file or directory (default: bank.paths from config)")
	bankStatsCmd.Flags().BoolVar(&bankJSON, "json", false, "Print stats as JSON")
	bankLintCmd.Flags().IntVar(&lintDistance, "distance", 0, "Maximum edit distance between stems (default: bank.lint_distance)")

	bankCmd.AddCommand(bankStatsCmd)
	bankCmd.AddCommand(bankLintCmd)
	bankCmd.AddCommand(bankCheckCmd)
}

func loadBank() (*bank.Bank, error) {
	paths := bankPaths
	if len(paths) == 0 {
		paths = cfg.Bank.Paths
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no bank paths configured")
	}
	b := bank.New()
	if _, err := b.Load(paths...); err != nil {
		return nil, fmt.Errorf("failed to load question bank: %w", err)
	}
	return b, nil
}

func bankStats(cmd *cobra.Command, args []string) error {
	b, err := loadBank()
	if err != nil {
		return err
	}
	st := b.Stats()
	out := cmd.OutOrStdout()

	if bankJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(out, "Questions: %d (single %d, multiple %d)\n", st.Questions, st.Single, st.Multiple)
	fmt.Fprintf(out, "Skipped records: %d\n", st.Skipped)
	fmt.Fprintf(out, "Sources: %d\n", len(st.Sources))
	for _, src := range st.Sources {
		fmt.Fprintf(out, "  %s\n", src)
	}
	if len(st.Categories) > 0 {
		fmt.Fprintln(out, "Categories:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		names := make([]string, 0, len(st.Categories))
		for name := range st.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(tw, "  %s\t%d\n", name, st.Categories[name])
		}
		_ = tw.Flush()
	}
	return nil
}

func bankLint(cmd *cobra.Command, args []string) error {
	b, err := loadBank()
	if err != nil {
		return err
	}
	distance := lintDistance
	if distance <= 0 {
		distance = cfg.Bank.LintDistance
	}

	pairs := bank.FindNearDuplicates(b.AllQuestions(), distance)
	out := cmd.OutOrStdout()
	if len(pairs) == 0 {
		fmt.Fprintf(out, "No near-duplicates among %d questions\n", b.Len())
		return nil
	}

	conflicts := 0
	for _, p := range pairs {
		kind := "DUPLICATE"
		if !p.SameAnswers {
			kind = "CONFLICT"
			conflicts++
		}
		fmt.Fprintf(out, "%s (distance %d)\n  %s %s\n  %s %s\n", kind, p.Distance,
			p.A.Label(), truncate(p.A.DescriptionText, 60), p.B.Label(), truncate(p.B.DescriptionText, 60))
	}
	fmt.Fprintf(out, "%d pair(s), %d with different answers\n", len(pairs), conflicts)
	return nil
}

func bankCheck(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read distribute capture: %w", err)
	}
	subjects, err := intercept.ParseSubjects(data)
	if err != nil {
		return fmt.Errorf("failed to parse distribute capture: %w", err)
	}
	b, err := loadBank()
	if err != nil {
		return err
	}

	engine := match.NewEngine(cfg.MatchConfig())
	questions := b.AllQuestions()
	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tCONFIDENCE\tBANK\tANSWER")

	matched := 0
	for _, sq := range subjects {
		res, ok := engine.Resolve(sq, questions)
		if !ok {
			bankID := "-"
			if res.Question != nil {
				bankID = res.Question.Label() + " (rejected)"
			}
			fmt.Fprintf(tw, "%d\t%.3f\t%s\t-\n", sq.SubjectID, res.Confidence, bankID)
			continue
		}
		matched++
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\n", sq.SubjectID, res.Confidence, res.Question.Label(), answerText(sq, res.CorrectOptionIDs))
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "%d/%d subjects matched\n", matched, len(subjects))
	return nil
}

// answerText renders the chosen option ids with their scraped contents.
func answerText(sq match.ScrapedQuestion, ids []int) string {
	byID := make(map[int]string, len(sq.Options))
	for _, o := range sq.Options {
		byID[o.ID] = o.Content
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d=%q", id, byID[id]))
	}
	return strings.Join(parts, ", ")
}
