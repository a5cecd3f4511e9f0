package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/harrisonrobin/sprintplanner/pkg/model"
	"go.uber.org/zap"
)

// Iterations lists the team's iterations.
func (c *Client) Iterations(ctx context.Context) ([]model.IterationInfo, error) {
	var res iterationsResult
	if err := c.do(ctx, request{method: http.MethodGet, url: c.teamURL + "work/teamsettings/iterations"}, &res); err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, fmt.Errorf("iterations not found")
	}
	out := make([]model.IterationInfo, len(res.Value))
	for i, it := range res.Value {
		out[i] = it.info()
	}
	return out, nil
}

// CurrentIteration returns the team's current iteration.
func (c *Client) CurrentIteration(ctx context.Context) (*model.IterationInfo, error) {
	var res iterationsResult
	err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.teamURL + "work/teamsettings/iterations",
		query:  url.Values{"$timeframe": {"current"}},
	}, &res)
	if err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, fmt.Errorf("current iteration not found")
	}
	info := res.Value[0].info()
	return &info, nil
}

// IterationWorkItems returns the ids of the top-level work items planned in an iteration.
func (c *Client) IterationWorkItems(ctx context.Context, iterationID string) ([]int, error) {
	var res iterationWorkItemsResult
	err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.teamURL + "work/teamsettings/iterations/" + url.PathEscape(iterationID) + "/workitems",
		query:  url.Values{"api-version": {"5.0-preview.1"}},
	}, &res)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, r := range res.WorkItemRelations {
		if r.Rel == nil {
			ids = append(ids, r.Target.ID)
		}
	}
	return ids, nil
}

// ActivityTypes returns the allowed values of the task Activity field.
func (c *Client) ActivityTypes(ctx context.Context) ([]string, error) {
	var res fieldDefinition
	err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.projectURL + "wit/workitemtypes/Task/fields/" + fieldActivity,
		query:  url.Values{"$expand": {"All"}},
	}, &res)
	if err != nil {
		return nil, err
	}
	return res.AllowedValues, nil
}

// ProjectAreas returns every area path of the project, parents first.
func (c *Client) ProjectAreas(ctx context.Context) ([]string, error) {
	var root areaNode
	err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.projectURL + "wit/classificationNodes/areas",
		query:  url.Values{"$depth": {"10"}},
	}, &root)
	if err != nil {
		return nil, err
	}
	return append([]string{root.Name}, areaPaths(root.Name, root.Children)...), nil
}

func areaPaths(parent string, nodes []areaNode) []string {
	var out []string
	for _, n := range nodes {
		name := parent + `\` + n.Name
		out = append(out, name)
		out = append(out, areaPaths(name, n.Children)...)
	}
	return out
}

// GetWorkItems reads work items with their relations. Ids the server does not
// know are left out of the result.
func (c *Client) GetWorkItems(ctx context.Context, ids []int) ([]model.WorkItemInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res workItemsResult
	err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.projectURL + "wit/workitems",
		query: url.Values{
			"ids":         {joinInts(ids)},
			"$expand":     {"Relations"},
			"errorPolicy": {"Omit"},
		},
	}, &res)
	if err != nil {
		return nil, err
	}
	var out []model.WorkItemInfo
	for _, w := range res.Value {
		if w != nil {
			out = append(out, w.info())
		}
	}
	return out, nil
}

// MaxStackRank returns the highest stack rank among the given tasks, 0 when none is set.
func (c *Client) MaxStackRank(ctx context.Context, taskIDs []int) (float64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	var res workItemsResult
	err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.projectURL + "wit/workitems",
		query: url.Values{
			"ids":         {joinInts(taskIDs)},
			"fields":      {fieldStackRank},
			"errorPolicy": {"Omit"},
		},
	}, &res)
	if err != nil {
		return 0, err
	}
	var top float64
	for _, w := range res.Value {
		if w != nil && w.Fields.StackRank != nil && *w.Fields.StackRank > top {
			top = *w.Fields.StackRank
		}
	}
	c.log.Debug("max stack rank", zap.Float64("rank", top), zap.Int("tasks", len(taskIDs)))
	return top, nil
}

// CreateWorkItem creates a work item of the given type in an iteration.
func (c *Client) CreateWorkItem(ctx context.Context, title, iterationPath, workItemType string) (*model.WorkItemInfo, error) {
	var res workItem
	err := c.do(ctx, request{
		method:      http.MethodPost,
		url:         c.projectURL + "wit/workitems/$" + url.PathEscape(workItemType),
		body:        workItemPatch(title, iterationPath),
		contentType: patchType,
	}, &res)
	if err != nil {
		return nil, err
	}
	c.log.Info("created work item", zap.Int("id", res.ID), zap.String("type", workItemType), zap.String("title", title))
	info := res.info()
	return &info, nil
}

// CreateOrUpdateTask creates the task when req.ID is 0 and updates it otherwise.
// It returns the task id.
func (c *Client) CreateOrUpdateTask(ctx context.Context, req model.TaskRequest) (int, error) {
	r := request{body: taskPatch(req), contentType: patchType}
	if req.ID > 0 {
		r.method = http.MethodPatch
		r.url = c.projectURL + "wit/workitems/" + strconv.Itoa(req.ID)
	} else {
		r.method = http.MethodPost
		r.url = c.projectURL + "wit/workitems/$Task"
	}

	var res workItem
	if err := c.do(ctx, r, &res); err != nil {
		return 0, err
	}
	c.log.Debug("published task",
		zap.Int("id", res.ID), zap.String("title", req.Title), zap.Bool("created", req.ID == 0))
	return res.ID, nil
}

func workItemPatch(title, iterationPath string) []patchOp {
	return []patchOp{
		addField(fieldTitle, title),
		addField(fieldIterationPath, iterationPath),
	}
}

// taskPatch builds the JSON Patch document for a task. Placement fields and the
// parent link are only sent when the task is created.
func taskPatch(req model.TaskRequest) []patchOp {
	ops := []patchOp{addField(fieldTitle, req.Title)}
	if req.Activity != "" {
		ops = append(ops, addField(fieldActivity, req.Activity))
	}

	if req.ID == 0 {
		ops = append(ops,
			addField(fieldAreaPath, req.AreaPath),
			addField(fieldTeamProject, req.TeamProject),
			addField(fieldIterationPath, req.IterationPath),
			patchOp{Op: "add", Path: "/relations/-", Value: link{Rel: relParent, URL: req.ParentURL}},
		)
	}

	if req.StackRank != nil {
		ops = append(ops, addField(fieldStackRank, *req.StackRank))
	}
	if len(req.Description) > 0 {
		ops = append(ops, addField(fieldDescription, "<div>"+strings.Join(req.Description, "</div><div>")+"</div>"))
	}
	if req.Estimation != nil {
		ops = append(ops,
			addField(fieldRemainingWork, *req.Estimation),
			addField(fieldOriginalEstimate, *req.Estimation),
		)
	}
	return ops
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
