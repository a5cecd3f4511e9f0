package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harrisonrobin/sprintplanner/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// remoteConfig writes a config pointing at srv and returns its path.
func remoteConfig(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "organization: org\nproject: proj\ntoken: secret\napi:\n  base_url: "+srv.URL+"\n  rate: 1000\n  burst: 100\n")
	return path
}

func TestList_NeedsNoRemote(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "sprint.plan")
	writeFile(t, doc, "US#42 - Add login\n- Build form, 2h\n- Write tests, 30m\n\nBUG#new - Crash on start\n")

	out, err := run(t, "--config", filepath.Join(dir, "config.yaml"), "list", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "US#42")
	assert.Contains(t, out, "2 tasks (2.5h)")
	assert.Contains(t, out, "BUG#new")
}

func TestList_FiltersByKind(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "sprint.plan")
	writeFile(t, doc, "US#42 - Add login\n- Build form, 2h\n\nBUG#7 - Crash on start\n")
	cfgPath := filepath.Join(dir, "config.yaml")

	out, err := run(t, "--config", cfgPath, "list", doc, "--kind", "bug")
	require.NoError(t, err)
	assert.Contains(t, out, "BUG#7")
	assert.NotContains(t, out, "US#42")

	_, err = run(t, "--config", cfgPath, "list", doc, "--kind", "EPIC")
	assert.ErrorContains(t, err, "unknown work item kind")
}

func TestConfigSet_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := run(t, "--config", path, "config", "set", "organization", "acme")
	require.NoError(t, err)
	_, err = run(t, "--config", path, "config", "set", "api.burst", "7")
	require.NoError(t, err)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Organization)
	assert.Equal(t, 7, cfg.API.Burst)

	_, err = run(t, "--config", path, "config", "set", "colour", "blue")
	assert.Error(t, err)
}

func TestCheck_ReportsUnknownActivities(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/org/proj/_apis/wit/workitemtypes/Task/fields/Microsoft.VSTS.Common.Activity", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "PAT", user)
		assert.Equal(t, "secret", pass)
		w.Write([]byte(`{"allowedValues":["Design","Development","Testing"]}`))
	}))
	defer srv.Close()

	doc := filepath.Join(t.TempDir(), "sprint.plan")
	writeFile(t, doc, "US#1 - story\nDevelopment:\n- a, 1h\nDancing:\n- b\n")

	cfgPath := remoteConfig(t, srv)
	out, err := run(t, "--config", cfgPath, "check", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "line 4:")
	assert.Contains(t, out, "Dancing is not a valid Activity")
	assert.Contains(t, out, "1 tasks (1h - 100% of US)")

	// The second run reads the activity types from the disk cache.
	_, err = run(t, "--config", cfgPath, "check", doc)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = run(t, "--config", cfgPath, "--refresh", "check", doc)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCheck_RequiresCompleteConfig(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "sprint.plan")
	writeFile(t, doc, "US#1 - story\n")

	_, err := run(t, "--config", filepath.Join(dir, "config.yaml"), "check", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config set")
}

func TestPublish_CreatesAndWritesBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/org/proj/_apis/work/teamsettings/iterations":
			w.Write([]byte(`{"count":1,"value":[{"id":"it-1","name":"Sprint 1","path":"proj\\Sprint 1"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/org/proj/_apis/wit/workitems/$User Story":
			w.Write([]byte(`{"id":901,"url":"https://x/_apis/wit/workItems/901","fields":{"System.Title":"Add login","System.AreaPath":"proj","System.TeamProject":"proj","System.IterationPath":"proj\\Sprint 1"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/org/proj/_apis/wit/workitems/$Task":
			var ops []map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&ops))
			switch ops[0]["value"] {
			case "Build form":
				w.Write([]byte(`{"id":902}`))
			default:
				w.Write([]byte(`{"id":903}`))
			}
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfgPath := remoteConfig(t, srv)
	doc := filepath.Join(t.TempDir(), "sprint.plan")
	writeFile(t, doc, "US#new - Add login\n- Build form, 1h\n- Write tests\n")

	out, err := run(t, "--config", cfgPath, "publish", doc, "--line", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Published 2 tasks for US#901 (2 created, 0 updated)")

	data, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.Equal(t, "US#901 - Add login\n- Build form, 1h [#902]\n- Write tests [#903]\n", string(data))

	out, err = run(t, "--config", cfgPath, "history", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "US#901 Add login (created, 2 tasks)")
	assert.Contains(t, out, "line 3 #903 Write tests")

	out, err = run(t, "--config", cfgPath, "history", doc, "--last")
	require.NoError(t, err)
	assert.Contains(t, out, "US#901 Add login (created, 2 tasks)")

	_, err = run(t, "--config", cfgPath, "history", doc, "--clear")
	require.NoError(t, err)
	out, err = run(t, "--config", cfgPath, "history", doc, "--last")
	require.NoError(t, err)
	assert.Contains(t, out, "no publishes recorded")
}

func TestPublish_RejectsBadLine(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "--config", filepath.Join(dir, "config.yaml"), "publish", filepath.Join(dir, "x.plan"), "--line", "0")
	assert.Error(t, err)
}

func TestHistory_Empty(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "--config", filepath.Join(dir, "config.yaml"), "history", filepath.Join(dir, "x.plan"))
	require.NoError(t, err)
	assert.Contains(t, out, "no publishes recorded")
}

// activityServer answers the activity and current iteration requests a check needs.
func activityServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/org/proj/_apis/wit/workitemtypes/Task/fields/Microsoft.VSTS.Common.Activity":
			w.Write([]byte(`{"allowedValues":["Design","Development"]}`))
		case "/org/proj/_apis/work/teamsettings/iterations":
			w.Write([]byte(`{"count":1,"value":[{"id":"it-1","name":"Sprint 1","path":"proj\\Sprint 1"}]}`))
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecheck_PrintsActivityCheck(t *testing.T) {
	a := &app{configPath: remoteConfig(t, activityServer(t))}
	require.NoError(t, a.setup())

	doc := filepath.Join(t.TempDir(), "sprint.plan")
	writeFile(t, doc, "US#1 - story\nDancing:\n- a\n")

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())

	a.recheck(context.Background(), cmd, doc)
	assert.Contains(t, out.String(), "Dancing is not a valid Activity")

	out.Reset()
	a.recheck(context.Background(), cmd, filepath.Join(t.TempDir(), "missing.plan"))
	assert.Empty(t, out.String(), "unreadable documents are only logged")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch_RechecksOnSave(t *testing.T) {
	cfgPath := remoteConfig(t, activityServer(t))
	doc := filepath.Join(t.TempDir(), "sprint.plan")
	writeFile(t, doc, "US#1 - story\nDesign:\n- a\n")

	var out syncBuffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "watch", doc})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "all activities are valid")
	}, 5*time.Second, 20*time.Millisecond)

	writeFile(t, doc, "US#1 - story\nDancing:\n- a\n")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Dancing is not a valid Activity")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
