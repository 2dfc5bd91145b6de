package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"exambridge/internal/journal"
)

var (
	journalOut   string
	journalLimit int
)

// =============================================================================
// JOURNAL COMMANDS - Unmatched questions
// =============================================================================

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect questions the bank could not answer",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unmatched questions, most recent first",
	RunE:  journalList,
}

var journalExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export unmatched questions as a bank draft",
	Long: `Writes the journaled questions in bank format with every option marked
incorrect. Mark the right options and add the file to bank.paths.`,
	RunE: journalExport,
}

func init() {
	journalListCmd.Flags().IntVar(&journalLimit, "limit", 20, "Maximum entries to list (0 for all)")
	journalExportCmd.Flags().StringVarP(&journalOut, "out", "o", "", "Output file (default: stdout)")

	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalExportCmd)
}

func openJournal() (*journal.Journal, error) {
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return nil, fmt.Errorf("journal %s: %w", cfg.Journal.Path, err)
	}
	return journal.Open(cfg.Journal.Path, 1)
}

func journalList(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	entries, err := j.List(ctx, journalLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEEN\tEXAM\tSUBJECT\tCOUNT\tBEST\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.3f\t%s\n",
			e.SeenAt.Local().Format("2006-01-02 15:04"), e.ExamID, e.SubjectID, e.SeenCount, e.BestConfidence, truncate(e.Description, 60))
	}
	return tw.Flush()
}

func journalExport(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	entries, err := j.List(ctx, 0)
	if err != nil {
		return err
	}

	data, err := journal.Draft(entries)
	if err != nil {
		return err
	}
	if journalOut == "" {
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(journalOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write draft: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d journal entries to %s\n", len(entries), journalOut)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
