package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/harrisonrobin/sprintplanner/pkg/document"
	"github.com/harrisonrobin/sprintplanner/pkg/model"
	"github.com/harrisonrobin/sprintplanner/pkg/parser"
	"github.com/harrisonrobin/sprintplanner/pkg/prefix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu sync.Mutex

	nextID    int
	items     map[int]model.WorkItemInfo
	ranks     map[int]float64
	created   []model.WorkItemInfo
	requests  []model.TaskRequest
	failTitle string
	getCalls  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nextID: 900,
		items:  map[int]model.WorkItemInfo{},
		ranks:  map[int]float64{},
	}
}

func (f *fakeRemote) CreateWorkItem(_ context.Context, title, iterationPath, workItemType string) (*model.WorkItemInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	info := model.WorkItemInfo{
		ID:            f.nextID,
		URL:           fmt.Sprintf("https://dev.azure.com/org/_apis/wit/workItems/%d", f.nextID),
		Title:         title,
		AreaPath:      "proj\\area",
		IterationPath: iterationPath,
		TeamProject:   "proj",
	}
	f.items[info.ID] = info
	f.created = append(f.created, info)
	return &info, nil
}

func (f *fakeRemote) GetWorkItems(_ context.Context, ids []int) ([]model.WorkItemInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	var out []model.WorkItemInfo
	for _, id := range ids {
		if info, ok := f.items[id]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (f *fakeRemote) MaxStackRank(_ context.Context, ids []int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var top float64
	for _, id := range ids {
		if r := f.ranks[id]; r > top {
			top = r
		}
	}
	return top, nil
}

func (f *fakeRemote) CreateOrUpdateTask(_ context.Context, req model.TaskRequest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTitle != "" && req.Title == f.failTitle {
		return 0, errors.New("boom")
	}
	f.requests = append(f.requests, req)
	if req.ID > 0 {
		return req.ID, nil
	}
	f.nextID++
	if req.StackRank != nil {
		f.ranks[f.nextID] = *req.StackRank
	}
	return f.nextID, nil
}

func (f *fakeRemote) sortedRequests() []model.TaskRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]model.TaskRequest(nil), f.requests...)
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

type fakeSession struct {
	iteration     *model.IterationInfo
	cached        map[int]*model.WorkItemInfo
	invalidations int
}

func (s *fakeSession) Invalidate() { s.invalidations++ }

func (s *fakeSession) DetermineIteration(context.Context, []string) (*model.IterationInfo, error) {
	if s.iteration == nil {
		return nil, errors.New("no iteration")
	}
	return s.iteration, nil
}

func (s *fakeSession) WorkItemInfo(_ context.Context, id int, _ string) (*model.WorkItemInfo, error) {
	return s.cached[id], nil
}

func newPublisher(remote Remote, session Session, opts Options) *Publisher {
	p := parser.New(prefix.NewRegistry(prefix.UserStoryAgile, prefix.Bug), nil)
	return New(p, remote, session, opts)
}

func defaultSession() *fakeSession {
	return &fakeSession{iteration: &model.IterationInfo{ID: "it-1", Name: "Sprint 1", Path: "proj\\Sprint 1"}}
}

func TestPublish_NewUserStory(t *testing.T) {
	remote := newFakeRemote()
	session := defaultSession()
	doc := document.NewBuffer("US#new - Add login\nDevelopment:\n- Build form, 2h\n- Write tests, 1h")
	pub := newPublisher(remote, session, Options{})

	res, err := pub.Publish(context.Background(), doc, 0)
	require.NoError(t, err)

	require.Len(t, remote.created, 1)
	assert.Equal(t, "Add login", remote.created[0].Title)
	assert.Equal(t, "proj\\Sprint 1", remote.created[0].IterationPath)

	reqs := remote.sortedRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Build form", reqs[0].Title)
	assert.Equal(t, 1.0, *reqs[0].StackRank)
	assert.Equal(t, "Development", reqs[0].Activity)
	assert.Equal(t, remote.created[0].URL, reqs[0].ParentURL)
	assert.Equal(t, 2.0, *reqs[1].StackRank)

	assert.True(t, res.Created)
	assert.Equal(t, 901, res.ID)
	assert.Equal(t, 1, session.invalidations, "creating a work item drops the cached list")
	assert.Equal(t, 2, res.TasksCreated)
	assert.Equal(t, "Published 2 tasks for US#901 (2 created, 0 updated)", res.Summary())

	got := doc.String()
	assert.Contains(t, got, "US#901 - Add login")
	assert.Contains(t, got, "- Build form, 2h [#")
	assert.Contains(t, got, "- Write tests, 1h [#")
}

func TestPublish_StackRankContinuesAfterRemoteMax(t *testing.T) {
	remote := newFakeRemote()
	remote.items[42] = model.WorkItemInfo{
		ID:   42,
		Type: "User Story",
		URL:  "https://dev.azure.com/org/_apis/wit/workItems/42",
		Children: []string{
			"https://dev.azure.com/org/_apis/wit/workItems/5",
			"https://dev.azure.com/org/_apis/wit/workItems/6",
		},
	}
	remote.ranks[5] = 10
	remote.ranks[6] = 17

	doc := document.NewBuffer("US#42 - story\n- a [#5]\n- b\n- c [#6]\n- d")
	pub := newPublisher(remote, defaultSession(), Options{DefaultActivity: "Development"})

	res, err := pub.Publish(context.Background(), doc, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, remote.getCalls, "uncached work item is read directly")

	byTitle := map[string]model.TaskRequest{}
	for _, r := range remote.sortedRequests() {
		byTitle[r.Title] = r
	}
	assert.Nil(t, byTitle["a"].StackRank)
	assert.Nil(t, byTitle["c"].StackRank)
	assert.Equal(t, 18.0, *byTitle["b"].StackRank)
	assert.Equal(t, 19.0, *byTitle["d"].StackRank)
	assert.Equal(t, "Development", byTitle["b"].Activity)

	assert.False(t, res.Created)
	assert.Equal(t, "Published 4 tasks for US#42 (2 created, 2 updated)", res.Summary())
	assert.Len(t, res.Edits, 2)
}

func TestPublish_IdempotentForIdentifiedItems(t *testing.T) {
	remote := newFakeRemote()
	info := &model.WorkItemInfo{ID: 42, URL: "https://dev.azure.com/org/_apis/wit/workItems/42"}
	session := defaultSession()
	session.cached = map[int]*model.WorkItemInfo{42: info}

	text := "BUG#42\n- a [#1]\n- b [#2]"
	doc := document.NewBuffer(text)
	pub := newPublisher(remote, session, Options{})

	res, err := pub.Publish(context.Background(), doc, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Edits)
	assert.Equal(t, text, doc.String())
	assert.Zero(t, remote.getCalls, "cached work item needs no remote read")
	assert.Zero(t, session.invalidations)
}

func TestPublish_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		msg  string
	}{
		{
			name: "new story with an identified task",
			text: "US#new - Add login\nDevelopment:\n- Build form, 2h\n- Write tests, 1h [#55]",
			msg:  "Tasks cannot have IDs when creating Work Item (#55)",
		},
		{
			name: "ids on create",
			text: "US#new\n- a [#1]\n- b\n- c [#2]",
			msg:  "Tasks cannot have IDs when creating Work Item (#1, #2)",
		},
		{
			name: "duplicates",
			text: "US#3\n- a [#9]\n- b [#7]\n- c [#7]\n- d [#9]\n- e [#7]",
			msg:  "Duplicate tasks found: #7, #9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			pub := newPublisher(remote, defaultSession(), Options{})

			_, err := pub.Publish(context.Background(), document.NewBuffer(tt.text), 0)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.msg, verr.Error())
			assert.Empty(t, remote.created)
			assert.Empty(t, remote.requests)
		})
	}
}

func TestPublish_NotFound(t *testing.T) {
	pub := newPublisher(newFakeRemote(), defaultSession(), Options{})

	_, err := pub.Publish(context.Background(), document.NewBuffer("US#77 - gone\n- a"), 0)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 77, nf.ID)
	assert.Equal(t, "User Story #77 does not exist", nf.Error())
}

func TestPublish_RejectsParentOfAnotherType(t *testing.T) {
	remote := newFakeRemote()
	remote.items[5] = model.WorkItemInfo{ID: 5, Type: "Task", URL: "https://dev.azure.com/org/_apis/wit/workItems/5"}
	doc := document.NewBuffer("US#5 - story\n- a")
	pub := newPublisher(remote, defaultSession(), Options{})

	_, err := pub.Publish(context.Background(), doc, 0)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "User Story #5 does not exist", nf.Error())
	assert.Empty(t, remote.requests)
	assert.Equal(t, "US#5 - story\n- a", doc.String())
}

func TestPublish_NoWorkItem(t *testing.T) {
	pub := newPublisher(newFakeRemote(), defaultSession(), Options{})

	_, err := pub.Publish(context.Background(), document.NewBuffer("just notes"), 0)
	assert.ErrorIs(t, err, ErrNoWorkItem)
}

func TestPublish_RemoteFailureSkipsWriteBack(t *testing.T) {
	remote := newFakeRemote()
	remote.failTitle = "b"
	text := "US#new - story\n- a\n- b"
	doc := document.NewBuffer(text)
	pub := newPublisher(remote, defaultSession(), Options{})

	_, err := pub.Publish(context.Background(), doc, 0)

	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "create task", rerr.Op)
	assert.Equal(t, text, doc.String())
}

func TestPublish_IterationFailure(t *testing.T) {
	pub := newPublisher(newFakeRemote(), &fakeSession{}, Options{})

	_, err := pub.Publish(context.Background(), document.NewBuffer("US#new - story"), 0)

	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "determine iteration", rerr.Op)
}

type busyLocker struct{}

func (busyLocker) TryLock() (bool, error) { return false, nil }
func (busyLocker) Unlock() error          { return nil }

func TestPublish_LockContentionIsSkipped(t *testing.T) {
	remote := newFakeRemote()
	pub := newPublisher(remote, defaultSession(), Options{Locker: busyLocker{}})

	res, err := pub.Publish(context.Background(), document.NewBuffer("US#new - story\n- a"), 0)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, remote.created)
}

type recorder struct {
	id      int
	taskIDs []int
}

func (r *recorder) Record(_ *model.WorkItem, id int, taskIDs []int) error {
	r.id, r.taskIDs = id, taskIDs
	return nil
}

func TestPublish_RecordsIDs(t *testing.T) {
	rec := &recorder{}
	pub := newPublisher(newFakeRemote(), defaultSession(), Options{Recorder: rec})

	res, err := pub.Publish(context.Background(), document.NewBuffer("BUG#new - crash\n- repro"), 1)
	require.NoError(t, err)
	assert.Equal(t, res.ID, rec.id)
	assert.Equal(t, res.TaskIDs, rec.taskIDs)
}

func TestMutexLocker(t *testing.T) {
	l := &mutexLocker{}

	ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = l.TryLock()
	assert.False(t, ok)

	require.NoError(t, l.Unlock())
	ok, _ = l.TryLock()
	assert.True(t, ok)
}

func TestChildTaskIDs(t *testing.T) {
	ids := childTaskIDs([]string{
		"https://dev.azure.com/org/_apis/wit/workItems/12",
		"https://dev.azure.com/org/_apis/wit/workitems/13",
		"https://example.com/nothing",
	})
	assert.Equal(t, []int{12, 13}, ids)
}
