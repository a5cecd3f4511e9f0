package azure

import "github.com/harrisonrobin/sprintplanner/pkg/model"

const (
	fieldTitle            = "System.Title"
	fieldWorkItemType     = "System.WorkItemType"
	fieldAreaPath         = "System.AreaPath"
	fieldTeamProject      = "System.TeamProject"
	fieldIterationPath    = "System.IterationPath"
	fieldDescription      = "System.Description"
	fieldActivity         = "Microsoft.VSTS.Common.Activity"
	fieldStackRank        = "Microsoft.VSTS.Common.StackRank"
	fieldRemainingWork    = "Microsoft.VSTS.Scheduling.RemainingWork"
	fieldOriginalEstimate = "Microsoft.VSTS.Scheduling.OriginalEstimate"

	relParent   = "System.LinkTypes.Hierarchy-Reverse"
	relChildren = "System.LinkTypes.Hierarchy-Forward"
)

type iterationsResult struct {
	Count int         `json:"count"`
	Value []iteration `json:"value"`
}

type iteration struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

func (i iteration) info() model.IterationInfo {
	return model.IterationInfo{ID: i.ID, Name: i.Name, Path: i.Path}
}

type iterationWorkItemsResult struct {
	WorkItemRelations []struct {
		Rel    *string `json:"rel"`
		Target struct {
			ID  int    `json:"id"`
			URL string `json:"url"`
		} `json:"target"`
	} `json:"workItemRelations"`
}

type fieldDefinition struct {
	AllowedValues []string `json:"allowedValues"`
}

type areaNode struct {
	Name     string     `json:"name"`
	Children []areaNode `json:"children"`
}

type workItemsResult struct {
	Count int         `json:"count"`
	Value []*workItem `json:"value"`
}

type workItem struct {
	ID        int            `json:"id"`
	URL       string         `json:"url"`
	Fields    workItemFields `json:"fields"`
	Relations []relation     `json:"relations"`
}

type workItemFields struct {
	Title         string   `json:"System.Title"`
	WorkItemType  string   `json:"System.WorkItemType"`
	AreaPath      string   `json:"System.AreaPath"`
	TeamProject   string   `json:"System.TeamProject"`
	IterationPath string   `json:"System.IterationPath"`
	StackRank     *float64 `json:"Microsoft.VSTS.Common.StackRank"`
}

type relation struct {
	Rel string `json:"rel"`
	URL string `json:"url"`
}

func (w *workItem) info() model.WorkItemInfo {
	info := model.WorkItemInfo{
		ID:            w.ID,
		URL:           w.URL,
		Type:          w.Fields.WorkItemType,
		Title:         w.Fields.Title,
		AreaPath:      w.Fields.AreaPath,
		IterationPath: w.Fields.IterationPath,
		TeamProject:   w.Fields.TeamProject,
	}
	for _, r := range w.Relations {
		if r.Rel == relChildren {
			info.Children = append(info.Children, r.URL)
		}
	}
	return info
}

// patchOp is one JSON Patch operation.
type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func addField(name string, value any) patchOp {
	return patchOp{Op: "add", Path: "/fields/" + name, Value: value}
}

type link struct {
	Rel string `json:"rel"`
	URL string `json:"url"`
}
