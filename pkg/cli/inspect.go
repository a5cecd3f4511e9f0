package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrisonrobin/sprintplanner/pkg/journal"
	"github.com/harrisonrobin/sprintplanner/pkg/model"
	"github.com/harrisonrobin/sprintplanner/pkg/parser"
	"github.com/harrisonrobin/sprintplanner/pkg/report"
	"github.com/spf13/cobra"
)

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parser.SplitLines(string(data)), nil
}

// filterKind keeps the items of the kind named by token, e.g. "BUG" or "US#".
func (a *app) filterKind(items []*model.WorkItem, token string) ([]*model.WorkItem, error) {
	token = strings.ToUpper(token)
	if !strings.HasSuffix(token, "#") {
		token += "#"
	}
	pr, ok := a.registry.ByToken(token)
	if !ok {
		return nil, fmt.Errorf("unknown work item kind %q", token)
	}
	var out []*model.WorkItem
	for _, wi := range items {
		if wi.Prefix == pr {
			out = append(out, wi)
		}
	}
	return out, nil
}

func newListCommand(a *app) *cobra.Command {
	var (
		links bool
		kind  string
	)

	cmd := &cobra.Command{
		Use:   "list <file>",
		Short: "List the work items of a document with their task summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readLines(args[0])
			if err != nil {
				return err
			}
			items := a.parser.WorkItems(lines)
			if kind != "" {
				if items, err = a.filterKind(items, kind); err != nil {
					return err
				}
			}
			p := report.NewPrinter(cmd.OutOrStdout())
			if !links {
				p.WorkItems(items, nil)
				return nil
			}

			client, _, err := a.remote(cmd.Context())
			if err != nil {
				return err
			}
			p.WorkItems(items, client.WorkItemURL)
			p.Links(report.Links(items, lines, client.WorkItemURL))
			return nil
		},
	}
	cmd.Flags().BoolVar(&links, "links", false, "print browser links for published items and tasks")
	cmd.Flags().StringVar(&kind, "kind", "", "only list work items of this kind, e.g. BUG")
	return cmd
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Report activity headers the project does not accept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readLines(args[0])
			if err != nil {
				return err
			}
			return a.check(cmd, lines)
		},
	}
}

func (a *app) check(cmd *cobra.Command, lines []string) error {
	_, store, err := a.remote(cmd.Context())
	if err != nil {
		return err
	}
	allowed, err := store.ActivityTypes(cmd.Context())
	if err != nil {
		return err
	}
	diags, stats := report.CheckActivities(a.parser, lines, allowed)
	report.NewPrinter(cmd.OutOrStdout()).Activities(diags, stats)
	return nil
}

func newIterationsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "iterations [file]",
		Short: "List the team iterations, marking the one a document targets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, err := a.remote(ctx)
			if err != nil {
				return err
			}

			var lines []string
			if len(args) == 1 {
				if lines, err = readLines(args[0]); err != nil {
					return err
				}
			}
			selected, err := store.DetermineIteration(ctx, lines)
			if err != nil {
				return err
			}
			its, err := store.Iterations(ctx)
			if err != nil {
				return err
			}
			report.NewPrinter(cmd.OutOrStdout()).Iterations(its, selected.ID)
			return nil
		},
	}
}

func newAreasCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "areas",
		Short: "List the project area paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := a.remote(cmd.Context())
			if err != nil {
				return err
			}
			areas, err := store.Areas(cmd.Context())
			if err != nil {
				return err
			}
			for _, area := range areas {
				fmt.Fprintln(cmd.OutOrStdout(), area)
			}
			return nil
		},
	}
}

func newHistoryCommand(a *app) *cobra.Command {
	var forget, last bool

	cmd := &cobra.Command{
		Use:   "history <file>",
		Short: "Show what earlier publishes of a document created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			j, err := journal.Open(journal.DefaultPath(a.configDir()))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if forget {
				j.Remove(path)
				return j.Save()
			}

			entries := j.Entries(path)
			if last {
				entries = nil
				if e, ok := j.Last(path); ok {
					entries = []journal.Entry{e}
				}
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "no publishes recorded")
				return nil
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&forget, "clear", false, "forget the recorded publishes of the document")
	cmd.Flags().BoolVar(&last, "last", false, "only show the most recent publish")
	return cmd
}

func printEntry(out io.Writer, e journal.Entry) {
	verb := "updated"
	if e.Created {
		verb = "created"
	}
	fmt.Fprintf(out, "%s %s%d %s (%s, %d tasks)\n",
		e.Published.Local().Format("2006-01-02 15:04"), e.Prefix, e.ID, e.Title, verb, len(e.Tasks))
	for _, t := range e.Tasks {
		fmt.Fprintf(out, "    line %d #%d %s\n", t.Line+1, t.ID, t.Title)
	}
}
