// Package report derives human-facing summaries from parsed documents.
package report

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/harrisonrobin/sprintplanner/pkg/model"
	"github.com/harrisonrobin/sprintplanner/pkg/parser"
)

// FormatHours renders hours with at most two decimals and no trailing zeros.
func FormatHours(h float64) string {
	return strconv.FormatFloat(math.Round(h*100)/100, 'f', -1, 64)
}

// Summary is the one-line description of a work item, e.g. "3 tasks (5.5h)".
func Summary(wi *model.WorkItem) string {
	switch len(wi.Tasks) {
	case 0:
		return "no tasks"
	case 1:
		return fmt.Sprintf("1 task (%sh)", FormatHours(wi.TotalHours()))
	default:
		return fmt.Sprintf("%d tasks (%sh)", len(wi.Tasks), FormatHours(wi.TotalHours()))
	}
}

// Label names a work item the way it is written in the document, e.g. "US#42" or "BUG#new".
func Label(wi *model.WorkItem) string {
	if wi.HasID() {
		return wi.Prefix.Token + strconv.Itoa(wi.ID)
	}
	return wi.Prefix.Token + "new"
}

// Diagnostic flags an activity header that the remote store does not accept.
type Diagnostic struct {
	Line     int
	Activity string
	Message  string
}

// ActivityStat summarises the tasks under one activity header of a work item.
type ActivityStat struct {
	Line     int
	Activity string
	Tasks    int
	Hours    float64
	Percent  int
	WorkItem *model.WorkItem
}

func (s ActivityStat) String() string {
	return fmt.Sprintf("%d tasks (%sh - %d%% of %s)",
		s.Tasks, FormatHours(s.Hours), s.Percent, strings.TrimSuffix(s.WorkItem.Prefix.Token, "#"))
}

// CheckActivities reports every activity header whose label is not in allowed, and
// computes stats for the valid ones that belong to a work item.
func CheckActivities(p *parser.Parser, lines []string, allowed []string) ([]Diagnostic, []ActivityStat) {
	items := p.WorkItems(lines)

	var (
		diags []Diagnostic
		stats []ActivityStat
	)
	for i, line := range lines {
		l := p.Classify(line, nil)
		if l.Kind != parser.ActivityHeader {
			continue
		}
		if !slices.Contains(allowed, l.Label) {
			diags = append(diags, Diagnostic{
				Line:     i,
				Activity: l.Label,
				Message:  fmt.Sprintf("%s is not a valid Activity", l.Label),
			})
			continue
		}
		if wi := enclosing(items, i); wi != nil {
			stats = append(stats, activityStat(wi, l.Label, i))
		}
	}
	return diags, stats
}

func enclosing(items []*model.WorkItem, line int) *model.WorkItem {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Line < line {
			return items[i]
		}
	}
	return nil
}

func activityStat(wi *model.WorkItem, activity string, line int) ActivityStat {
	s := ActivityStat{Line: line, Activity: activity, WorkItem: wi}
	for _, t := range wi.Tasks {
		if t.Activity == activity {
			s.Tasks++
			s.Hours += t.Hours()
		}
	}
	if total := wi.TotalHours(); total > 0 {
		s.Percent = int(math.Floor(s.Hours * 100 / total))
	}
	return s
}

// Link points a span of a line at a work item in the browser.
type Link struct {
	Line  int
	Start int
	End   int
	ID    int
	URL   string
}

// Links returns a link for every identified work item header and task.
// url builds the browser address of an id.
func Links(items []*model.WorkItem, lines []string, url func(id int) string) []Link {
	var links []Link
	for _, wi := range items {
		if !wi.HasID() {
			continue
		}
		links = append(links, Link{Line: wi.Line, Start: 0, End: wi.IDEnd, ID: wi.ID, URL: url(wi.ID)})
		for _, t := range wi.Tasks {
			if !t.HasID() || t.Line >= len(lines) {
				continue
			}
			line := lines[t.Line]
			marker := "[#" + strconv.Itoa(t.ID) + "]"
			start := strings.LastIndex(line, marker)
			if start < 0 {
				continue
			}
			links = append(links, Link{Line: t.Line, Start: start + 1, End: start + len(marker) - 1, ID: t.ID, URL: url(t.ID)})
		}
	}
	return links
}
