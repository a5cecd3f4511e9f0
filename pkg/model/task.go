package model

import "github.com/harrisonrobin/sprintplanner/pkg/prefix"

// Task is one line of work under a work item.
type Task struct {
	ID          int // 0 when the task has not been published yet
	Title       string
	Estimation  *float64 // hours
	Description []string
	Activity    string
	Line        int
	StackRank   *float64 // only set for tasks being created
}

// HasID reports whether the task already exists remotely.
func (t Task) HasID() bool { return t.ID > 0 }

// Hours returns the estimation or zero.
func (t Task) Hours() float64 {
	if t.Estimation == nil {
		return 0
	}
	return *t.Estimation
}

// WorkItem is a user story, backlog item or bug with its tasks.
type WorkItem struct {
	Line   int
	Prefix *prefix.Prefix
	ID     int // 0 when the header carries the `new` sentinel
	Title  string
	Tasks  []Task
	// IDStart and IDEnd are the byte columns of the id token on the header line.
	IDStart int
	IDEnd   int
}

// HasID reports whether the work item already exists remotely.
func (w *WorkItem) HasID() bool { return w.ID > 0 }

// TotalHours sums the estimation of every task.
func (w *WorkItem) TotalHours() float64 {
	var total float64
	for _, t := range w.Tasks {
		total += t.Hours()
	}
	return total
}

// Iteration is an `IT#<uuid>` marker found in a document.
type Iteration struct {
	Line int
	ID   string
}
