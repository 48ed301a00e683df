package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"shipit/internal/config"
	"shipit/internal/ledger"
	"shipit/internal/security"
	"shipit/pkg/utils"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cellStyle    = lipgloss.NewStyle().PaddingRight(2)
	columnWidths = []int{5, 10, 20, 10, 8, 26, 16}
)

// NewLedgerCommand creates the ledger command group
func NewLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify the run ledger",
	}
	cmd.PersistentFlags().String("ledger", config.Default().Ledger.Path, "ledger file")

	cmd.AddCommand(newLedgerInspectCommand())
	cmd.AddCommand(newLedgerVerifyCommand())
	return cmd
}

func openLedger(cmd *cobra.Command) (*ledger.Ledger, error) {
	path, _ := cmd.Flags().GetString("ledger")
	l, err := ledger.OpenLedger(path)
	if err != nil {
		return nil, usagef("open ledger: %v", err)
	}
	return l, nil
}

func newLedgerInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print every ledger record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := openLedger(cmd)
			if err != nil {
				return err
			}
			runID, _ := cmd.Flags().GetString("run")
			renderRecords(cmd.OutOrStdout(), l.Records(), runID)
			return nil
		},
	}
	cmd.Flags().String("run", "", "only show records of this run id")
	return cmd
}

func newLedgerVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check hash links, signatures and step logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := openLedger(cmd)
			if err != nil {
				return err
			}
			if err := l.VerifyChain(); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}

			if pubPath, _ := cmd.Flags().GetString("pub"); pubPath != "" {
				pub, err := security.LoadPublicKey(pubPath)
				if err != nil {
					return usagef("public key: %v", err)
				}
				if err := l.VerifySignatures(pub); err != nil {
					return fmt.Errorf("verification failed: %w", err)
				}
			}

			if check, _ := cmd.Flags().GetBool("check-logs"); check {
				if err := verifyLogs(l.Records()); err != nil {
					return fmt.Errorf("verification failed: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ledger OK (%d records)\n", len(l.Records()))
			return nil
		},
	}
	cmd.Flags().String("pub", "", "public key that must have signed every record")
	cmd.Flags().Bool("check-logs", false, "re-hash the step logs referenced by each record")
	return cmd
}

// verifyLogs compares every referenced log file with the hash recorded for it.
func verifyLogs(records []*ledger.Record) error {
	var errs []error
	for _, r := range records {
		if r.LogPath == "" {
			continue
		}
		got, err := utils.HashFile(r.LogPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", r.Index, err))
			continue
		}
		if got != r.LogHash {
			errs = append(errs, fmt.Errorf("record %d: log %s was modified", r.Index, r.LogPath))
		}
	}
	return errors.Join(errs...)
}

func renderRecords(w io.Writer, records []*ledger.Record, runID string) {
	row := func(cells ...string) string {
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = cellStyle.Width(columnWidths[i]).Render(c)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, out...)
	}

	fmt.Fprintln(w, headerStyle.Render(row("#", "RUN", "STEP", "STATUS", "TRIES", "TIME", "HASH")))
	shown := 0
	for _, r := range records {
		if runID != "" && r.RunID != runID {
			continue
		}
		shown++
		fmt.Fprintln(w, row(
			strconv.Itoa(r.Index),
			short(r.RunID, 8),
			r.Step,
			statusStyle(r.Status).Render(string(r.Status)),
			strconv.Itoa(r.Attempts),
			r.Timestamp,
			short(r.Hash, 14),
		))
	}
	if shown == 0 {
		fmt.Fprintln(w, skipStyle.Render("no records"))
	}
}

func statusStyle(s ledger.Status) lipgloss.Style {
	switch s {
	case ledger.StatusSucceeded:
		return okStyle
	case ledger.StatusFailed:
		return failStyle
	default:
		return skipStyle
	}
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
