// Package parser recovers work items and tasks from a planning document.
//
// Parsing works one line at a time. Every line is classified into a closed set of
// kinds, and a work item is assembled from the header line plus the block of lines
// that follows it. Nothing is shared between calls, so a Parser may be used from
// several goroutines at once.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/harrisonrobin/sprintplanner/pkg/prefix"
	"go.uber.org/zap"
)

// Kind is the classification of a single document line.
type Kind int

const (
	Prose Kind = iota
	Header
	IterationMarker
	ActivityHeader
	TaskLine
	DescriptionLine
	BlockEnd
)

func (k Kind) String() string {
	switch k {
	case Header:
		return "header"
	case IterationMarker:
		return "iteration"
	case ActivityHeader:
		return "activity"
	case TaskLine:
		return "task"
	case DescriptionLine:
		return "description"
	case BlockEnd:
		return "end"
	default:
		return "prose"
	}
}

var (
	iterationRegex = regexp.MustCompile(`(?i)^IT#([\da-f]{8}(?:-[\da-f]{4}){3}-[\da-f]{12})`)
	activityRegex  = regexp.MustCompile(`(?i)^[a-z]+:$`)
	newLineRegex   = regexp.MustCompile(`\r?\n`)
)

const descriptionIndent = "\t"

// Line is a classified document line. Which fields are set depends on Kind.
type Line struct {
	Kind Kind
	Text string

	// Header
	Prefix  *prefix.Prefix
	ID      int // 0 for the `new` sentinel
	Title   string
	IDStart int
	IDEnd   int

	// IterationMarker
	Iteration string

	// ActivityHeader
	Label string
}

// Parser classifies and assembles lines against a prefix registry.
type Parser struct {
	registry *prefix.Registry
	log      *zap.Logger
}

// New returns a parser for the given registry. A nil logger discards diagnostics.
func New(registry *prefix.Registry, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{registry: registry, log: logger}
}

// SplitLines splits document text on LF or CRLF.
func SplitLines(text string) []string {
	return newLineRegex.Split(text, -1)
}

// Classify decides what a line is. active is the prefix of the block the line sits
// in, or nil when the line is outside any work item block.
func (p *Parser) Classify(line string, active *prefix.Prefix) Line {
	if active != nil {
		switch {
		case endsBlock(line, active):
			return Line{Kind: BlockEnd, Text: line}
		case activityRegex.MatchString(line):
			return Line{Kind: ActivityHeader, Text: line, Label: line[:len(line)-1]}
		case strings.HasPrefix(line, descriptionIndent):
			return Line{Kind: DescriptionLine, Text: strings.TrimSpace(line)}
		default:
			return Line{Kind: TaskLine, Text: line}
		}
	}

	if h, ok := p.matchHeader(line); ok {
		return h
	}
	if id, ok := iterationID(line); ok {
		return Line{Kind: IterationMarker, Text: line, Iteration: id}
	}
	if activityRegex.MatchString(line) {
		return Line{Kind: ActivityHeader, Text: line, Label: line[:len(line)-1]}
	}
	return Line{Kind: Prose, Text: line}
}

func endsBlock(line string, p *prefix.Prefix) bool {
	if p.End != nil && p.End.MatchString(line) {
		return true
	}
	return p.Header.MatchString(line)
}

// matchHeader returns the header classification when exactly one prefix matches.
func (p *Parser) matchHeader(line string) (Line, bool) {
	var (
		matched *prefix.Prefix
		loc     []int
		count   int
	)
	for _, pr := range p.registry.Prefixes() {
		if m := pr.Header.FindStringSubmatchIndex(line); m != nil {
			matched, loc = pr, m
			count++
		}
	}
	if count == 0 {
		return Line{}, false
	}
	if count > 1 {
		p.log.Warn("more than one prefix matched line, ignoring it",
			zap.String("line", line), zap.Int("matches", count))
		return Line{}, false
	}

	h := Line{Kind: Header, Text: line, Prefix: matched}
	idGroup := matched.Header.SubexpIndex("id")
	h.IDStart, h.IDEnd = loc[2*idGroup], loc[2*idGroup+1]
	if token := line[h.IDStart:h.IDEnd]; token != prefix.NewSentinel {
		id, err := strconv.Atoi(token)
		if err != nil || id <= 0 {
			p.log.Warn("invalid work item id", zap.String("line", line))
			return Line{}, false
		}
		h.ID = id
	}
	if g := matched.Header.SubexpIndex("title"); g > 0 && loc[2*g] >= 0 {
		h.Title = strings.TrimSpace(line[loc[2*g]:loc[2*g+1]])
	}
	return h, true
}

func iterationID(line string) (string, bool) {
	m := iterationRegex.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return "", false
	}
	return id.String(), true
}
