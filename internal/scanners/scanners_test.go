package scanners

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/scan-aggregator/internal/config"
	"github.com/yourorg/scan-aggregator/internal/model"
)

// fakeTool writes an executable shell script standing in for a scanner binary.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	p := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func TestTrivy_Command(t *testing.T) {
	s := &Trivy{Bin: "trivy", Timeout: 10 * time.Minute}
	c := s.command(Target{Dir: "/src"})
	assert.Equal(t, "trivy", c.bin)
	assert.Equal(t, []string{"fs", "/src"}, c.args[:2])
	assert.Contains(t, c.String(), "--scanners vuln,secret")
	assert.Contains(t, c.String(), "--format json")
	assert.Contains(t, c.String(), "--timeout 10m0s")
}

func TestSnyk_Command(t *testing.T) {
	s := &Snyk{Bin: "snyk", Token: "tok", OrgID: "org-1"}
	c := s.command(Target{Dir: "/src"})
	assert.Equal(t, []string{"test", "--json", "--org=org-1"}, c.args)
	assert.Equal(t, "/src", c.dir)
	assert.Equal(t, []string{"SNYK_TOKEN=tok"}, c.env)
	assert.True(t, c.accepts(1))
	assert.False(t, c.accepts(2))
}

func TestSnyk_NoToken(t *testing.T) {
	_, err := (&Snyk{Bin: "snyk"}).Scan(context.Background(), Target{Dir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDependencyCheck_Command(t *testing.T) {
	s := &DependencyCheck{Bin: "dependency-check.sh", Suppressions: "/etc/dc/suppressions.xml"}
	c, out := s.command(Target{Dir: "/src", WorkDir: "/work"})
	assert.Equal(t, "/work/dc-report.json", out)
	assert.Equal(t, []string{
		"--project", "ScanProject",
		"--scan", "/src",
		"--format", "JSON",
		"--out", "/work/dc-report.json",
		"--suppression", "/etc/dc/suppressions.xml",
	}, c.args)
}

func TestCommand_Run(t *testing.T) {
	ctx := context.Background()

	out, err := command{bin: fakeTool(t, `echo '{"Results":[]}'`)}.run(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Results":[]}`, string(out))

	out, err = command{bin: fakeTool(t, `echo '{"ok":false}'; exit 1`), okExit: []int{1}}.run(ctx)
	require.NoError(t, err, "accepted exit code")
	assert.Contains(t, string(out), `"ok":false`)

	_, err = command{bin: fakeTool(t, `echo boom >&2; exit 2`)}.run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCommand_RunTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := command{bin: fakeTool(t, "exec sleep 5")}.run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDependencyCheck_Scan(t *testing.T) {
	// the fake writes its --out argument ($8) like the real tool does
	bin := fakeTool(t, `echo '{"dependencies":[]}' > "$8"`)
	work := t.TempDir()
	res, err := (&DependencyCheck{Bin: bin}).Scan(context.Background(), Target{Dir: t.TempDir(), WorkDir: work})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, dependencyCheckReport), res.Path)
	assert.Empty(t, res.Output)
}

func TestDependencyCheck_NoReport(t *testing.T) {
	_, err := (&DependencyCheck{Bin: fakeTool(t, "true")}).Scan(context.Background(), Target{Dir: t.TempDir(), WorkDir: t.TempDir()})
	assert.Error(t, err)
}

func sonarServer(t *testing.T, measuresFailures int32) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/measures/component", func(w http.ResponseWriter, r *http.Request) {
		if n := atomic.AddInt32(&calls, 1); n <= measuresFailures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		user, _, ok := r.BasicAuth()
		if !ok || user != "sonar-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("component") != "org_repo" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"component":{"key":"org_repo","measures":[{"metric":"bugs","value":"2"}]}}`))
	})
	mux.HandleFunc("/api/issues/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "my-org", r.URL.Query().Get("organization"))
		_, _ = w.Write([]byte(`{"total":1,"issues":[{"key":"AX1","severity":"MAJOR","message":"m"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func fastSonar(host string) *Sonar {
	s := NewSonar(host, "sonar-token", "my-org", time.Second, nil)
	s.client.RetryWaitMin = time.Millisecond
	s.client.RetryWaitMax = 5 * time.Millisecond
	return s
}

func TestSonar_Scan(t *testing.T) {
	srv, calls := sonarServer(t, 1)
	res, err := fastSonar(srv.URL).Scan(context.Background(), Target{ProjectKey: "org_repo"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls), "one retry after the 503")
	assert.Equal(t, model.ToolSonar, res.Tool)

	var doc struct {
		Component struct {
			Key string `json:"key"`
		} `json:"component"`
		Issues []json.RawMessage `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(res.Output, &doc))
	assert.Equal(t, "org_repo", doc.Component.Key)
	assert.Len(t, doc.Issues, 1)
}

func TestSonar_NotFound(t *testing.T) {
	srv, _ := sonarServer(t, 0)
	_, err := fastSonar(srv.URL).Scan(context.Background(), Target{ProjectKey: "missing"})
	assert.True(t, errors.Is(err, ErrProjectNotFound))
}

func TestSonar_NoProjectKey(t *testing.T) {
	_, err := fastSonar("http://127.0.0.1:1").Scan(context.Background(), Target{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFromConfig(t *testing.T) {
	entries := FromConfig(config.Tools{TrivyTimeout: time.Minute, SonarHost: "https://sonarcloud.io"}, nil)
	require.Len(t, entries, len(model.Tools))
	for i, id := range model.Tools {
		assert.Equal(t, id, entries[i].Scanner.Tool())
	}
	assert.Equal(t, time.Minute, entries[2].Timeout)
}
