// Package edit maps remote ids back onto the lines of a planning document.
package edit

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/harrisonrobin/sprintplanner/pkg/model"
)

// Edit replaces the byte range [Start, End) of Line with Text. Start == End is an
// insertion. Coordinates always refer to the document as it was parsed.
type Edit struct {
	Line  int
	Start int
	End   int
	Text  string
}

// Sink receives one batch of edits and applies all of them or none.
type Sink interface {
	ApplyEdits(ctx context.Context, edits []Edit) error
}

// Plan returns the edits that record createdID and taskIDs in the document.
// createdID is 0 when the work item already existed. taskIDs holds the id returned
// for each task of wi, in the same order.
func Plan(lines []string, wi *model.WorkItem, createdID int, taskIDs []int) ([]Edit, error) {
	if len(taskIDs) != len(wi.Tasks) {
		return nil, fmt.Errorf("got %d task ids for %d tasks", len(taskIDs), len(wi.Tasks))
	}

	var edits []Edit
	if createdID > 0 && !wi.HasID() {
		edits = append(edits, Edit{
			Line:  wi.Line,
			Start: wi.IDStart,
			End:   wi.IDEnd,
			Text:  strconv.Itoa(createdID),
		})
	}

	for i, task := range wi.Tasks {
		id := taskIDs[i]
		if id == task.ID {
			continue
		}
		if task.Line < 0 || task.Line >= len(lines) {
			return nil, fmt.Errorf("task %q points at line %d outside the document", task.Title, task.Line)
		}
		end := len(lines[task.Line])
		edits = append(edits, Edit{
			Line:  task.Line,
			Start: end,
			End:   end,
			Text:  fmt.Sprintf(" [#%d]", id),
		})
	}
	return edits, nil
}

// Apply returns a copy of lines with every edit applied. The input is left untouched.
// Edits that fall outside their line or overlap each other reject the whole batch.
func Apply(lines []string, edits []Edit) ([]string, error) {
	sorted := append([]Edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].Start < sorted[j].Start
	})

	for i, e := range sorted {
		if e.Line < 0 || e.Line >= len(lines) {
			return nil, fmt.Errorf("edit on line %d: line outside the document", e.Line)
		}
		if e.Start < 0 || e.Start > e.End || e.End > len(lines[e.Line]) {
			return nil, fmt.Errorf("edit on line %d: range [%d, %d) outside the line", e.Line, e.Start, e.End)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.Line == e.Line && (prev.End > e.Start || prev.Start == e.Start) {
			return nil, fmt.Errorf("edit on line %d: range [%d, %d) overlaps [%d, %d)",
				e.Line, e.Start, e.End, prev.Start, prev.End)
		}
	}

	out := append([]string(nil), lines...)
	// Back to front so earlier columns on the same line stay valid.
	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]
		l := out[e.Line]
		out[e.Line] = l[:e.Start] + e.Text + l[e.End:]
	}
	return out, nil
}
