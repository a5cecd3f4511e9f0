// Package publish reconciles a parsed work item with the remote store and writes the
// resulting ids back into the document.
package publish

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/harrisonrobin/sprintplanner/pkg/edit"
	"github.com/harrisonrobin/sprintplanner/pkg/model"
	"github.com/harrisonrobin/sprintplanner/pkg/parser"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Remote is the subset of the work tracking API a publish needs.
type Remote interface {
	CreateWorkItem(ctx context.Context, title, iterationPath, workItemType string) (*model.WorkItemInfo, error)
	GetWorkItems(ctx context.Context, ids []int) ([]model.WorkItemInfo, error)
	MaxStackRank(ctx context.Context, taskIDs []int) (float64, error)
	CreateOrUpdateTask(ctx context.Context, req model.TaskRequest) (int, error)
}

// Session answers questions from cached remote state.
type Session interface {
	// DetermineIteration returns the iteration new work items go into.
	DetermineIteration(ctx context.Context, lines []string) (*model.IterationInfo, error)
	// WorkItemInfo returns the cached work item, or nil when the cache does not hold it.
	WorkItemInfo(ctx context.Context, id int, workItemType string) (*model.WorkItemInfo, error)
	// Invalidate drops cached work items once the remote list has changed.
	Invalidate()
}

// Document is the text being published and the place edits go back to.
type Document interface {
	Lines() ([]string, error)
	edit.Sink
}

// Locker guards a document against concurrent publishes. *flock.Flock satisfies it.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// Recorder keeps the ids a publish produced, before they are written to the document.
type Recorder interface {
	Record(wi *model.WorkItem, id int, taskIDs []int) error
}

type Options struct {
	DefaultActivity string
	Locker          Locker
	Recorder        Recorder
	Logger          *zap.Logger
}

// Publisher runs one publish at a time per document.
type Publisher struct {
	parser          *parser.Parser
	remote          Remote
	session         Session
	lock            Locker
	recorder        Recorder
	defaultActivity string
	log             *zap.Logger
}

func New(p *parser.Parser, remote Remote, session Session, opts Options) *Publisher {
	pub := &Publisher{
		parser:          p,
		remote:          remote,
		session:         session,
		lock:            opts.Locker,
		recorder:        opts.Recorder,
		defaultActivity: opts.DefaultActivity,
		log:             opts.Logger,
	}
	if pub.lock == nil {
		pub.lock = &mutexLocker{}
	}
	if pub.log == nil {
		pub.log = zap.NewNop()
	}
	return pub
}

// Result describes a finished publish.
type Result struct {
	// Skipped is set when another publish held the lock. Nothing else is set then.
	Skipped bool

	WorkItem     *model.WorkItem
	ID           int
	Created      bool
	TaskIDs      []int
	TasksCreated int
	TasksUpdated int
	Edits        []edit.Edit
}

// Summary is the one-line report shown to the user.
func (r *Result) Summary() string {
	if r.Skipped {
		return "Publish already running, skipped"
	}
	return fmt.Sprintf("Published %d tasks for %s%d (%d created, %d updated)",
		len(r.TaskIDs), r.WorkItem.Prefix.Token, r.ID, r.TasksCreated, r.TasksUpdated)
}

// Publish reconciles the work item enclosing cursor and writes the new ids into doc.
func (p *Publisher) Publish(ctx context.Context, doc Document, cursor int) (*Result, error) {
	ok, err := p.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire publish lock: %w", err)
	}
	if !ok {
		p.log.Info("publish already running, skipping")
		return &Result{Skipped: true}, nil
	}
	defer func() {
		if err := p.lock.Unlock(); err != nil {
			p.log.Warn("failed to release publish lock", zap.Error(err))
		}
	}()

	lines, err := doc.Lines()
	if err != nil {
		return nil, err
	}
	wi, ok := p.parser.GetWorkItemInfo(lines, cursor)
	if !ok {
		return nil, ErrNoWorkItem
	}
	if err := Validate(wi); err != nil {
		return nil, err
	}

	parent, created, err := p.resolveParent(ctx, lines, wi)
	if err != nil {
		return nil, err
	}
	base, err := p.stackRankBaseline(ctx, parent)
	if err != nil {
		return nil, err
	}
	ids, err := p.dispatch(ctx, p.taskRequests(wi, parent, base))
	if err != nil {
		return nil, err
	}

	res := &Result{WorkItem: wi, ID: parent.ID, Created: created, TaskIDs: ids}
	for _, t := range wi.Tasks {
		if t.HasID() {
			res.TasksUpdated++
		} else {
			res.TasksCreated++
		}
	}

	createdID := 0
	if created {
		createdID = parent.ID
	}
	if p.recorder != nil {
		if err := p.recorder.Record(wi, parent.ID, ids); err != nil {
			p.log.Warn("failed to record published ids", zap.Error(err))
		}
	}

	res.Edits, err = edit.Plan(lines, wi, createdID, ids)
	if err != nil {
		return nil, err
	}
	if err := doc.ApplyEdits(ctx, res.Edits); err != nil {
		return nil, fmt.Errorf("failed to write ids back to the document: %w", err)
	}

	p.log.Info("published work item",
		zap.String("type", wi.Prefix.WorkItemType),
		zap.Int("id", parent.ID),
		zap.Bool("created", created),
		zap.Int("tasks_created", res.TasksCreated),
		zap.Int("tasks_updated", res.TasksUpdated))
	return res, nil
}

// Validate rejects work items that cannot be published as written.
func Validate(wi *model.WorkItem) error {
	var ids []int
	for _, t := range wi.Tasks {
		if t.HasID() {
			ids = append(ids, t.ID)
		}
	}

	if !wi.HasID() && len(ids) > 0 {
		return &ValidationError{
			Msg: fmt.Sprintf("Tasks cannot have IDs when creating Work Item (%s)", joinIDs(ids)),
			IDs: ids,
		}
	}

	seen := make(map[int]int, len(ids))
	for _, id := range ids {
		seen[id]++
	}
	var dups []int
	for id, n := range seen {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	if len(dups) > 0 {
		sort.Ints(dups)
		return &ValidationError{
			Msg: "Duplicate tasks found: " + joinIDs(dups),
			IDs: dups,
		}
	}
	return nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "#" + strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

func (p *Publisher) resolveParent(ctx context.Context, lines []string, wi *model.WorkItem) (*model.WorkItemInfo, bool, error) {
	it, err := p.session.DetermineIteration(ctx, lines)
	if err != nil {
		return nil, false, &RemoteError{Op: "determine iteration", Err: err}
	}

	if !wi.HasID() {
		info, err := p.remote.CreateWorkItem(ctx, wi.Title, it.Path, wi.Prefix.WorkItemType)
		if err != nil {
			return nil, false, &RemoteError{Op: "create " + wi.Prefix.WorkItemType, Err: err}
		}
		p.log.Debug("created work item", zap.Int("id", info.ID), zap.String("iteration", it.Path))
		p.session.Invalidate()
		return info, true, nil
	}

	info, err := p.session.WorkItemInfo(ctx, wi.ID, wi.Prefix.WorkItemType)
	if err != nil {
		return nil, false, &RemoteError{Op: "look up work item", Err: err}
	}
	if info != nil {
		return info, false, nil
	}

	p.log.Debug("work item not cached, reading it directly", zap.Int("id", wi.ID))
	infos, err := p.remote.GetWorkItems(ctx, []int{wi.ID})
	if err != nil {
		return nil, false, &RemoteError{Op: "get work item", Err: err}
	}
	if len(infos) == 0 {
		return nil, false, &NotFoundError{Type: wi.Prefix.WorkItemType, ID: wi.ID}
	}
	if !strings.EqualFold(infos[0].Type, wi.Prefix.WorkItemType) {
		p.log.Debug("work item has another type",
			zap.Int("id", wi.ID), zap.String("want", wi.Prefix.WorkItemType), zap.String("got", infos[0].Type))
		return nil, false, &NotFoundError{Type: wi.Prefix.WorkItemType, ID: wi.ID}
	}
	return &infos[0], false, nil
}

var childIDRegex = regexp.MustCompile(`(?i)/workItems/(\d+)`)

func childTaskIDs(urls []string) []int {
	var ids []int
	for _, u := range urls {
		if m := childIDRegex.FindStringSubmatch(u); m != nil {
			if id, err := strconv.Atoi(m[1]); err == nil {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// stackRankBaseline returns the highest stack rank among the parent's tasks, or 0.
func (p *Publisher) stackRankBaseline(ctx context.Context, parent *model.WorkItemInfo) (float64, error) {
	ids := childTaskIDs(parent.Children)
	if len(ids) == 0 {
		return 0, nil
	}
	top, err := p.remote.MaxStackRank(ctx, ids)
	if err != nil {
		return 0, &RemoteError{Op: "read stack rank", Err: err}
	}
	return top, nil
}

// taskRequests builds one request per task in document order. New tasks get
// consecutive stack ranks starting right after base.
func (p *Publisher) taskRequests(wi *model.WorkItem, parent *model.WorkItemInfo, base float64) []model.TaskRequest {
	reqs := make([]model.TaskRequest, len(wi.Tasks))
	rank := base
	for i := range wi.Tasks {
		t := &wi.Tasks[i]
		activity := t.Activity
		if activity == "" {
			activity = p.defaultActivity
		}
		if !t.HasID() {
			rank++
			r := rank
			t.StackRank = &r
		}
		reqs[i] = model.TaskRequest{
			ID:            t.ID,
			Title:         t.Title,
			Activity:      activity,
			Description:   t.Description,
			Estimation:    t.Estimation,
			StackRank:     t.StackRank,
			AreaPath:      parent.AreaPath,
			IterationPath: parent.IterationPath,
			TeamProject:   parent.TeamProject,
			ParentURL:     parent.URL,
		}
	}
	return reqs
}

// dispatch sends every request concurrently. ids[i] is the id returned for reqs[i].
func (p *Publisher) dispatch(ctx context.Context, reqs []model.TaskRequest) ([]int, error) {
	ids := make([]int, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			id, err := p.remote.CreateOrUpdateTask(gctx, req)
			if err != nil {
				op := "create task"
				if req.ID > 0 {
					op = fmt.Sprintf("update task #%d", req.ID)
				}
				return &RemoteError{Op: op, Err: err}
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

type mutexLocker struct {
	mu sync.Mutex
}

func (l *mutexLocker) TryLock() (bool, error) { return l.mu.TryLock(), nil }

func (l *mutexLocker) Unlock() error {
	l.mu.Unlock()
	return nil
}
