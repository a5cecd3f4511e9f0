package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/harrisonrobin/sprintplanner/pkg/model"
	"github.com/harrisonrobin/sprintplanner/pkg/prefix"
	"go.uber.org/zap"
)

var (
	taskMarkerRegex = regexp.MustCompile(`^\s*[-*]\s*`)
	taskIDRegex     = regexp.MustCompile(`\s*\[#(\d+)\]\s*$`)
	estimationRegex = regexp.MustCompile(`\s*[,-]\s*(?:(\d+)m|(\d+(?:\.\d+)?)h?)\s*$`)
)

// GetWorkItemInfo returns the work item enclosing the cursor line.
func (p *Parser) GetWorkItemInfo(lines []string, cursor int) (*model.WorkItem, bool) {
	header, line, ok := p.FindEnclosingHeader(lines, cursor)
	if !ok {
		return nil, false
	}
	return p.assemble(lines, line, header), true
}

// WorkItems assembles every work item in the document, in document order.
func (p *Parser) WorkItems(lines []string) []*model.WorkItem {
	var items []*model.WorkItem
	for _, line := range p.FindHeaderLines(lines) {
		if wi, ok := p.GetWorkItemInfo(lines, line); ok {
			items = append(items, wi)
		}
	}
	return items
}

// Assemble builds the work item whose header sits on headerLine.
func (p *Parser) Assemble(lines []string, headerLine int, pr *prefix.Prefix) (*model.WorkItem, error) {
	if headerLine < 0 || headerLine >= len(lines) {
		return nil, fmt.Errorf("line %d is outside the document", headerLine)
	}
	header := p.Classify(lines[headerLine], nil)
	if header.Kind != Header || header.Prefix != pr {
		return nil, fmt.Errorf("line %d is not a %s header", headerLine, pr.Token)
	}
	return p.assemble(lines, headerLine, header), nil
}

func (p *Parser) assemble(lines []string, headerLine int, header Line) *model.WorkItem {
	start := headerLine + 1
	last := p.FindBlockExtent(lines, start, header.Prefix)

	acc := accumulator{}
	for i := start; i <= last; i++ {
		acc = acc.add(p.Classify(lines[i], header.Prefix), i)
	}
	if acc.orphans > 0 {
		p.log.Debug("dropped description lines before the first task",
			zap.Int("line", headerLine), zap.Int("count", acc.orphans))
	}

	return &model.WorkItem{
		Line:    headerLine,
		Prefix:  header.Prefix,
		ID:      header.ID,
		Title:   header.Title,
		Tasks:   acc.tasks,
		IDStart: header.IDStart,
		IDEnd:   header.IDEnd,
	}
}

// accumulator is the state folded over the lines of one block.
type accumulator struct {
	activity string
	tasks    []model.Task
	orphans  int
}

func (a accumulator) add(l Line, lineNo int) accumulator {
	switch l.Kind {
	case ActivityHeader:
		a.activity = l.Label
	case DescriptionLine:
		if len(a.tasks) == 0 {
			a.orphans++
			break
		}
		last := &a.tasks[len(a.tasks)-1]
		last.Description = append(last.Description, l.Text)
	case TaskLine:
		a.tasks = append(a.tasks, parseTask(l.Text, lineNo, a.activity))
	}
	return a
}

// parseTask turns a raw task line into a Task.
func parseTask(text string, lineNo int, activity string) model.Task {
	task := model.Task{Line: lineNo, Activity: activity}

	text = taskMarkerRegex.ReplaceAllString(text, "")

	if m := taskIDRegex.FindStringSubmatchIndex(text); m != nil {
		if id, err := strconv.Atoi(text[m[2]:m[3]]); err == nil && id > 0 {
			task.ID = id
			text = text[:m[0]]
		}
	}

	if m := estimationRegex.FindStringSubmatch(text); m != nil {
		var hours float64
		if m[1] != "" {
			minutes, _ := strconv.Atoi(m[1])
			hours = math.Round(float64(minutes)/60*100) / 100
		} else {
			hours, _ = strconv.ParseFloat(m[2], 64)
		}
		task.Estimation = &hours
		text = text[:len(text)-len(m[0])]
	}

	task.Title = strings.TrimSpace(text)
	return task
}
