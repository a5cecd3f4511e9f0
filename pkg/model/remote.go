package model

// IterationInfo is a sprint as the remote store knows it.
type IterationInfo struct {
	ID   string
	Name string
	Path string
}

// WorkItemInfo is the remote view of a work item a task can be attached to.
type WorkItemInfo struct {
	ID            int
	URL           string
	Type          string
	Title         string
	AreaPath      string
	IterationPath string
	TeamProject   string
	// Children holds the urls of child tasks (hierarchy-forward relations).
	Children []string
}

// TaskRequest is one create-or-update call for a task. ID is 0 for a create.
type TaskRequest struct {
	ID          int
	Title       string
	Activity    string
	Description []string
	Estimation  *float64
	StackRank   *float64

	AreaPath      string
	IterationPath string
	TeamProject   string
	ParentURL     string
}
