package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kai-sub/gitlab/modules/placeholders"
	"github.com/kai-sub/gitlab/pkg/composables"
	"github.com/kai-sub/gitlab/pkg/configuration"
)

type runOptions struct {
	sourceUserID int64
	strict       bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reassignment pass for a source user",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.sourceUserID <= 0 {
				return withCode(exitUsage, fmt.Errorf("--source-user-id must be positive"))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReassign(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.sourceUserID, "source-user-id", 0, "Source user ID (required)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit non-zero when references are left in the ledger")
	_ = cmd.MarkFlagRequired("source-user-id")
	return cmd
}

func runReassign(ctx context.Context, out io.Writer, opts runOptions) error {
	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger().WithField("command", "run")

	pool, err := connectDB(ctx)
	if err != nil {
		return withCode(exitDB, err)
	}
	defer pool.Close()

	module, err := placeholders.NewModule(conf, logger)
	if err != nil {
		return withCode(exitUsage, err)
	}

	report, err := module.Service.Reassign(composables.WithPool(ctx, pool), opts.sourceUserID)
	if err != nil {
		return withCode(exitReassign, fmt.Errorf("reassign source user %d: %w", opts.sourceUserID, err))
	}
	if err := writeJSONLine(out, summarize(opts.sourceUserID, report)); err != nil {
		return err
	}
	if opts.strict && report.Executed && !report.FullyReassigned() {
		return withCode(exitIncomplete, fmt.Errorf("source user %d: %d references left in the ledger",
			opts.sourceUserID, report.References.Retained()))
	}
	return nil
}
