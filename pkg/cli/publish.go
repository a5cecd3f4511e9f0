package cli

import (
	"fmt"
	"path/filepath"

	"github.com/harrisonrobin/sprintplanner/pkg/document"
	"github.com/harrisonrobin/sprintplanner/pkg/journal"
	"github.com/harrisonrobin/sprintplanner/pkg/publish"
	"github.com/harrisonrobin/sprintplanner/pkg/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPublishCommand(a *app) *cobra.Command {
	var line int

	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Create or update the work item under --line and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if line < 1 {
				return fmt.Errorf("--line must be 1 or greater")
			}
			ctx := cmd.Context()
			client, store, err := a.remote(ctx)
			if err != nil {
				return err
			}

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			doc := document.NewFile(path)

			j, err := journal.Open(journal.DefaultPath(a.configDir()))
			if err != nil {
				a.log.Warn("publish history unavailable", zap.Error(err))
			}
			opts := publish.Options{
				DefaultActivity: a.cfg.DefaultActivity,
				Locker:          doc.Locker(),
				Logger:          a.log.Named("publish"),
			}
			if j != nil {
				opts.Recorder = j.Recorder(path)
			}

			res, err := publish.New(a.parser, client, store, opts).Publish(ctx, doc, line-1)
			if err != nil {
				return err
			}
			report.NewPrinter(cmd.OutOrStdout()).Message(res.Summary())
			return nil
		},
	}
	cmd.Flags().IntVarP(&line, "line", "l", 1, "line number (1-based) inside the work item to publish")
	return cmd
}
