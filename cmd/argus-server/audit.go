package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/server/internal/config"
)

// errChainInvalid makes `audit verify` exit non-zero.
var errChainInvalid = errors.New("audit chain integrity violation")

func newAuditCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(newAuditVerifyCmd(opts))
	cmd.AddCommand(newAuditTailCmd(opts))
	return cmd
}

func newAuditVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		Long: `Walk the audit log oldest-first and recompute every record hash.

Exits non-zero when a record was edited, removed or reordered.

Examples:
  argus-server audit verify
  argus-server audit verify -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeFn, err := openAuditLog(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			rep, err := log.Integrity(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.output != "table" {
				if err := writeOutput(out, opts.output, rep); err != nil {
					return err
				}
			} else if rep.Valid {
				fmt.Fprintf(out, "Status: VALID\nRecords: %d\n", rep.RecordsChecked)
			} else {
				fmt.Fprintf(out, "Status: INVALID\nFirst violation: record %d (%s)\n", *rep.FirstViolation, rep.Violation)
			}

			if !rep.Valid {
				return fmt.Errorf("%w at record %d", errChainInvalid, *rep.FirstViolation)
			}
			return nil
		},
	}
}

func newAuditTailCmd(opts *rootOptions) *cobra.Command {
	var (
		limit     int
		principal string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit records",
		Long: `Show the most recent audit records, newest first.

Examples:
  argus-server audit tail
  argus-server audit tail -n 20 --principal alice -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeFn, err := openAuditLog(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			page, err := log.Records(cmd.Context(), types.AuditQuery{
				PrincipalID: principal,
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			if opts.output != "table" {
				return writeOutput(cmd.OutOrStdout(), opts.output, page.Records)
			}
			printRecords(cmd.OutOrStdout(), page.Records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", service.DefaultAuditLimit, "Number of records to show (max 100)")
	cmd.Flags().StringVar(&principal, "principal", "", "Only show records for this principal")
	return cmd
}

func printRecords(out io.Writer, recs []types.AuditRecordView) {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No audit records.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIMESTAMP\tEVENT\tPRINCIPAL\tDECISION\tREASON\tORIGIN")
	for _, r := range recs {
		principal := "-"
		if r.PrincipalID != nil {
			principal = *r.PrincipalID
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.Timestamp, r.EventType, principal, r.Decision, r.Reason, r.Origin)
	}
	w.Flush()
}

func newThresholdsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Inspect acceptance thresholds",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current per-tier acceptance thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openCLIEngine(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			view := engine.Thresholds()
			if opts.output != "table" {
				return writeOutput(cmd.OutOrStdout(), opts.output, view)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tTHRESHOLD")
			fmt.Fprintf(w, "1\t%.4f\n", view.Tier1)
			fmt.Fprintf(w, "2\t%.4f\n", view.Tier2)
			fmt.Fprintf(w, "3\t%.4f\n", view.Tier3)
			w.Flush()
			if view.UpdatedAt != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Updated: %s\n", view.UpdatedAt)
			}
			return nil
		},
	})
	return cmd
}

// openAuditLog opens only the audit store.  The chain is plaintext, so
// inspecting it never touches the key file or the sealed blobs.
func openAuditLog(cmd *cobra.Command, opts *rootOptions) (*service.AuditLog, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Backend == "sqlite" {
		if _, err := os.Stat(cfg.Storage.DBPath); err != nil {
			return nil, nil, fmt.Errorf("audit database: %w", err)
		}
	}
	stores, closeFn, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	log, err := service.OpenAuditLog(cmd.Context(), stores.Audit)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return log, closeFn, nil
}

// openCLIEngine opens the engine for a one-shot inspection command.  Logs go
// to stderr so they never mix with command output.
func openCLIEngine(cmd *cobra.Command, opts *rootOptions) (*service.Engine, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	return openEngine(cmd.Context(), cfg, logger, nil)
}
