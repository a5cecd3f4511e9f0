// Package prefix holds the registry of work item kinds a planning document may contain.
package prefix

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	ProcessAgile = "Agile"
	ProcessScrum = "Scrum"

	// NewSentinel is the id token that marks a work item which does not exist remotely yet.
	NewSentinel = "new"
)

// defaultEnd matches a blank line or a `---` separator.
var defaultEnd = regexp.MustCompile(`^(---|\s*)$`)

// Prefix describes one kind of work item, e.g. `US#` for user stories.
type Prefix struct {
	Token        string         // e.g. "US#"
	Header       *regexp.Regexp // must capture "id" and may capture "title"
	End          *regexp.Regexp // optional, nil means only the next header ends a block
	WorkItemType string         // remote type name, e.g. "User Story"
}

// New builds a prefix with the standard `<TOKEN><id|new>[ - <title>]` header
// and a blank/`---` end pattern.
func New(token, workItemType string) *Prefix {
	return &Prefix{
		Token:        token,
		Header:       regexp.MustCompile(`^` + regexp.QuoteMeta(token) + `(?P<id>\d+|` + NewSentinel + `)(?: - (?P<title>.*))?`),
		End:          defaultEnd,
		WorkItemType: workItemType,
	}
}

var (
	UserStoryAgile = New("US#", "User Story")
	UserStoryScrum = New("US#", "Product Backlog Item")
	Bug            = New("BUG#", "Bug")
)

// Registry is an ordered, read-only set of prefixes.
type Registry struct {
	prefixes []*Prefix
}

// NewRegistry returns a registry holding the given prefixes in order.
func NewRegistry(prefixes ...*Prefix) *Registry {
	return &Registry{prefixes: append([]*Prefix(nil), prefixes...)}
}

// ForProcess returns the registry for an Azure DevOps process template.
func ForProcess(process string) (*Registry, error) {
	switch strings.ToLower(process) {
	case "agile":
		return NewRegistry(UserStoryAgile, Bug), nil
	case "scrum":
		return NewRegistry(UserStoryScrum, Bug), nil
	default:
		return nil, fmt.Errorf("process type %q not supported", process)
	}
}

// Prefixes returns the registered prefixes in registration order.
func (r *Registry) Prefixes() []*Prefix {
	if r == nil {
		return nil
	}
	return r.prefixes
}

// ByToken returns the first prefix registered for token.
func (r *Registry) ByToken(token string) (*Prefix, bool) {
	for _, p := range r.Prefixes() {
		if p.Token == token {
			return p, true
		}
	}
	return nil, false
}
