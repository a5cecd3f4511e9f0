package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/harrisonrobin/sprintplanner/pkg/model"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46"))

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Underline(true)
)

// Printer writes styled reports for the terminal.
type Printer struct {
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// WorkItems prints one line per work item with its task summary and, when url is
// set and the item exists remotely, its link.
func (p *Printer) WorkItems(items []*model.WorkItem, url func(id int) string) {
	if len(items) == 0 {
		fmt.Fprintln(p.out, dimStyle.Render("no work items found"))
		return
	}
	for _, wi := range items {
		line := fmt.Sprintf("%s %s", headerStyle.Render(Label(wi)), wi.Title)
		line += "  " + dimStyle.Render(fmt.Sprintf("line %d, %s", wi.Line+1, Summary(wi)))
		if url != nil && wi.HasID() {
			line += "  " + linkStyle.Render(url(wi.ID))
		}
		fmt.Fprintln(p.out, line)
	}
}

// Activities prints diagnostics first, then the stats of valid activity headers.
func (p *Printer) Activities(diags []Diagnostic, stats []ActivityStat) {
	for _, d := range diags {
		fmt.Fprintf(p.out, "%s %s\n", errorStyle.Render(fmt.Sprintf("line %d:", d.Line+1)), d.Message)
	}
	for _, s := range stats {
		fmt.Fprintf(p.out, "%s %s %s\n",
			dimStyle.Render(fmt.Sprintf("line %d:", s.Line+1)), s.Activity, dimStyle.Render(s.String()))
	}
	if len(diags) == 0 {
		fmt.Fprintln(p.out, okStyle.Render("all activities are valid"))
	}
}

// Iterations prints the team iterations, marking the selected one.
func (p *Printer) Iterations(its []model.IterationInfo, selected string) {
	for _, it := range its {
		marker := "  "
		name := it.Name
		if it.ID == selected {
			marker = okStyle.Render("* ")
			name = headerStyle.Render(it.Name)
		}
		fmt.Fprintf(p.out, "%s%s %s\n", marker, name, dimStyle.Render("IT#"+it.ID+" - "+it.Path))
	}
}

// Links prints each link with its document position.
func (p *Printer) Links(links []Link) {
	for _, l := range links {
		fmt.Fprintf(p.out, "%s #%d %s\n", dimStyle.Render(fmt.Sprintf("line %d:", l.Line+1)), l.ID, linkStyle.Render(l.URL))
	}
}

// Message prints a plain success line.
func (p *Printer) Message(msg string) {
	fmt.Fprintln(p.out, okStyle.Render(msg))
}

// Error prints a failure line.
func (p *Printer) Error(msg string) {
	fmt.Fprintln(p.out, errorStyle.Render(msg))
}
