package parser

import (
	"github.com/harrisonrobin/sprintplanner/pkg/model"
	"github.com/harrisonrobin/sprintplanner/pkg/prefix"
)

// FindHeaderLines returns the line number of every work item header in document order.
func (p *Parser) FindHeaderLines(lines []string) []int {
	var results []int
	for i, line := range lines {
		if p.Classify(line, nil).Kind == Header {
			results = append(results, i)
		}
	}
	return results
}

// FindEnclosingHeader scans backwards from `from` (inclusive) to the nearest header.
func (p *Parser) FindEnclosingHeader(lines []string, from int) (Line, int, bool) {
	for i := clamp(from, len(lines)); i >= 0; i-- {
		if l := p.Classify(lines[i], nil); l.Kind == Header {
			return l, i, true
		}
	}
	return Line{}, -1, false
}

// FindBlockExtent returns the last line of the block starting at start. The block is
// [start, last]; it is empty (last < start) when start is itself a block end.
func (p *Parser) FindBlockExtent(lines []string, start int, pr *prefix.Prefix) int {
	for i := start; i < len(lines); i++ {
		if endsBlock(lines[i], pr) {
			return i - 1
		}
	}
	return len(lines) - 1
}

// FindNearestIterationMarker scans backwards from `from` (inclusive) to the nearest
// `IT#` marker.
func (p *Parser) FindNearestIterationMarker(lines []string, from int) (model.Iteration, bool) {
	for i := clamp(from, len(lines)); i >= 0; i-- {
		if id, ok := iterationID(lines[i]); ok {
			return model.Iteration{Line: i, ID: id}, true
		}
	}
	return model.Iteration{}, false
}

func clamp(line, n int) int {
	if line >= n {
		return n - 1
	}
	return line
}
