package edit

import (
	"testing"

	"github.com/harrisonrobin/sprintplanner/pkg/model"
	"github.com/harrisonrobin/sprintplanner/pkg/prefix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_NewWorkItem(t *testing.T) {
	lines := []string{
		"US#new - Add login",
		"Development:",
		"- Build form, 2h",
		"- Write tests, 1h [#55]",
	}
	wi := &model.WorkItem{
		Line: 0, Prefix: prefix.UserStoryAgile, Title: "Add login", IDStart: 3, IDEnd: 6,
		Tasks: []model.Task{
			{Title: "Build form", Line: 2},
			{ID: 55, Title: "Write tests", Line: 3},
		},
	}

	edits, err := Plan(lines, wi, 901, []int{902, 55})
	require.NoError(t, err)
	assert.Equal(t, []Edit{
		{Line: 0, Start: 3, End: 6, Text: "901"},
		{Line: 2, Start: 16, End: 16, Text: " [#902]"},
	}, edits)

	out, err := Apply(lines, edits)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"US#901 - Add login",
		"Development:",
		"- Build form, 2h [#902]",
		"- Write tests, 1h [#55]",
	}, out)
	assert.Equal(t, "US#new - Add login", lines[0], "input must not be modified")
}

func TestPlan_BugHeaderSpan(t *testing.T) {
	lines := []string{"BUG#new"}
	wi := &model.WorkItem{Prefix: prefix.Bug, IDStart: 4, IDEnd: 7}

	edits, err := Plan(lines, wi, 12, nil)
	require.NoError(t, err)

	out, err := Apply(lines, edits)
	require.NoError(t, err)
	assert.Equal(t, []string{"BUG#12"}, out)
}

func TestPlan_IdempotentWhenIDsUnchanged(t *testing.T) {
	lines := []string{"US#7", "- a [#1]", "- b [#2]"}
	wi := &model.WorkItem{
		ID: 7, IDStart: 3, IDEnd: 4,
		Tasks: []model.Task{{ID: 1, Line: 1}, {ID: 2, Line: 2}},
	}

	edits, err := Plan(lines, wi, 0, []int{1, 2})
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestPlan_MismatchedIDs(t *testing.T) {
	wi := &model.WorkItem{Tasks: []model.Task{{Line: 0}}}
	_, err := Plan([]string{"- a"}, wi, 0, nil)
	assert.Error(t, err)
}

func TestApply_RejectsOverlap(t *testing.T) {
	lines := []string{"US#new - story"}

	_, err := Apply(lines, []Edit{
		{Line: 0, Start: 3, End: 6, Text: "1"},
		{Line: 0, Start: 5, End: 8, Text: "2"},
	})
	assert.Error(t, err)

	_, err = Apply(lines, []Edit{
		{Line: 0, Start: 14, End: 14, Text: " [#1]"},
		{Line: 0, Start: 14, End: 14, Text: " [#2]"},
	})
	assert.Error(t, err, "two insertions at the same column are ambiguous")
}

func TestApply_RejectsOutOfRange(t *testing.T) {
	lines := []string{"abc"}

	_, err := Apply(lines, []Edit{{Line: 1}})
	assert.Error(t, err)

	_, err = Apply(lines, []Edit{{Line: 0, Start: 2, End: 9}})
	assert.Error(t, err)

	_, err = Apply(lines, []Edit{{Line: 0, Start: 2, End: 1}})
	assert.Error(t, err)
}

func TestApply_SameLineBackToFront(t *testing.T) {
	out, err := Apply([]string{"US#new - x"}, []Edit{
		{Line: 0, Start: 10, End: 10, Text: " [#5]"},
		{Line: 0, Start: 3, End: 6, Text: "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"US#42 - x [#5]"}, out)
}
