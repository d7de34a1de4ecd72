package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/ochronus/goskynet/internal/app"
	"github.com/ochronus/goskynet/internal/config"
	"github.com/ochronus/goskynet/skynet"
	"github.com/sirupsen/logrus"
)

// fakeClient records uploads and fails the first failures[name] attempts
// for a name with failWith.
type fakeClient struct {
	mu       sync.Mutex
	uploads  map[string][]string
	failures map[string]int
	failWith error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		uploads:  make(map[string][]string),
		failures: make(map[string]int),
	}
}

func (f *fakeClient) UploadFile(ctx context.Context, file skynet.File) (*skynet.Response, error) {
	data, err := io.ReadAll(file.Content)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[file.Name] = append(f.uploads[file.Name], string(data))
	if f.failures[file.Name] > 0 {
		f.failures[file.Name]--
		return nil, f.failWith
	}
	return &skynet.Response{Skylink: skynet.Skylink("sia://" + file.Name)}, nil
}

func (f *fakeClient) SkylinkURL(s skynet.Skylink) string { return "http://portal/" + s.ID() }
func (f *fakeClient) Close() error                       { return nil }

func setupTestUploader(t *testing.T, client skynet.ClientAPI, workers int) *Uploader {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.UploadWorkers = workers
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelayMS = 0

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	container, err := app.NewContainer(cfg, app.WithLogger(logger), app.WithClient(client))
	if err != nil {
		t.Fatalf("failed to build container: %v", err)
	}
	u := NewUploader(container)
	u.policy.BaseDelay = 1
	return u
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNewUploader(t *testing.T) {
	u := setupTestUploader(t, newFakeClient(), 3)
	if u.workers != 3 {
		t.Errorf("expected 3 workers, got %d", u.workers)
	}
	if u.policy.MaxAttempts != 3 {
		t.Errorf("expected 3 max attempts, got %d", u.policy.MaxAttempts)
	}
	if u.client == nil || u.logger == nil {
		t.Error("expected client and logger to be set")
	}
}

func TestRunUploadsAllJobsInOrder(t *testing.T) {
	dir := t.TempDir()
	var jobs []Job
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		path := filepath.Join(dir, name)
		writeFile(t, path, "content of "+name)
		jobs = append(jobs, Job{Path: path, Name: name, Size: int64(len("content of " + name))})
	}

	client := newFakeClient()
	results := setupTestUploader(t, client, 2).Run(context.Background(), jobs)

	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
	for i, r := range results {
		if r.Job.Name != jobs[i].Name {
			t.Errorf("result %d: expected job %s, got %s", i, jobs[i].Name, r.Job.Name)
		}
		if r.Status != StatusSuccess {
			t.Errorf("%s: expected success, got %s (%v)", r.Job, r.Status, r.Err)
		}
		if r.Skylink != skynet.Skylink("sia://"+r.Job.Name) {
			t.Errorf("%s: unexpected skylink %s", r.Job, r.Skylink)
		}
		if r.URL != "http://portal/"+r.Job.Name {
			t.Errorf("%s: unexpected url %s", r.Job, r.URL)
		}
		if r.Attempts != 1 {
			t.Errorf("%s: expected 1 attempt, got %d", r.Job, r.Attempts)
		}
		if got := client.uploads[r.Job.Name]; len(got) != 1 || got[0] != "content of "+r.Job.Name {
			t.Errorf("%s: unexpected uploaded content %v", r.Job, got)
		}
	}

	summary := Summarize(results)
	if summary.Succeeded != 5 || summary.Failed != 0 || summary.Total != 5 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flaky.txt")
	writeFile(t, path, "flaky")

	client := newFakeClient()
	client.failures["flaky.txt"] = 2
	client.failWith = &skynet.APIError{StatusCode: http.StatusBadGateway}

	results := setupTestUploader(t, client, 1).Run(context.Background(), []Job{{Path: path, Name: "flaky.txt", Size: 5}})

	r := results[0]
	if r.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", r.Status, r.Err)
	}
	if r.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", r.Attempts)
	}
	for i, body := range client.uploads["flaky.txt"] {
		if body != "flaky" {
			t.Errorf("attempt %d sent %q, expected the whole file", i, body)
		}
	}
}

func TestRunDoesNotRetryPermanentFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	writeFile(t, path, "bad")

	client := newFakeClient()
	client.failures["bad.txt"] = 5
	client.failWith = &skynet.APIError{StatusCode: http.StatusBadRequest}

	results := setupTestUploader(t, client, 1).Run(context.Background(), []Job{{Path: path, Name: "bad.txt"}})

	r := results[0]
	if r.Status != StatusFailed {
		t.Fatalf("expected failure, got %s", r.Status)
	}
	if r.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", r.Attempts)
	}
	var apiErr *skynet.APIError
	if !errors.As(r.Err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected APIError 400, got %v", r.Err)
	}
}

func TestRunMissingFileFails(t *testing.T) {
	results := setupTestUploader(t, newFakeClient(), 1).Run(context.Background(), []Job{
		{Path: filepath.Join(t.TempDir(), "gone.txt"), Name: "gone.txt"},
	})
	if results[0].Status != StatusFailed {
		t.Fatalf("expected failure, got %s", results[0].Status)
	}
	if !errors.Is(results[0].Err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", results[0].Err)
	}
}

func TestRunCanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newFakeClient()
	results := setupTestUploader(t, client, 2).Run(ctx, []Job{
		{Path: path, Name: "a.txt"},
		{Path: path, Name: "b.txt"},
	})

	for _, r := range results {
		if r.Status != StatusCanceled {
			t.Errorf("%s: expected canceled, got %s", r.Job, r.Status)
		}
	}
	if len(client.uploads) != 0 {
		t.Errorf("expected no uploads, got %v", client.uploads)
	}
	if s := Summarize(results); s.Canceled != 2 {
		t.Errorf("expected 2 canceled, got %+v", s)
	}
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "single.txt"), "1")
	writeFile(t, filepath.Join(dir, "photos", "a.jpg"), "aa")
	writeFile(t, filepath.Join(dir, "photos", "nested", "b.jpg"), "bbb")
	writeFile(t, filepath.Join(dir, "photos", ".DS_Store"), "x")
	writeFile(t, filepath.Join(dir, "photos", "draft.tmp"), "x")
	writeFile(t, filepath.Join(dir, "photos", ".git", "HEAD"), "x")

	jobs, err := Expand(
		[]string{filepath.Join(dir, "single.txt"), filepath.Join(dir, "photos")},
		[]string{".DS_Store", ".git", "*.TMP"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	sizes := make(map[string]int64)
	for _, j := range jobs {
		names = append(names, j.Name)
		sizes[j.Name] = j.Size
	}
	sort.Strings(names)

	want := []string{"photos/a.jpg", "photos/nested/b.jpg", "single.txt"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected %s, got %s", want[i], names[i])
		}
	}
	if sizes["photos/nested/b.jpg"] != 3 {
		t.Errorf("expected size 3, got %d", sizes["photos/nested/b.jpg"])
	}
}

func TestExpandMissingPath(t *testing.T) {
	if _, err := Expand([]string{filepath.Join(t.TempDir(), "missing")}, nil); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		expected bool
	}{
		{name: ".git", patterns: []string{".git"}, expected: true},
		{name: "Notes.TMP", patterns: []string{"*.tmp"}, expected: true},
		{name: "notes.txt", patterns: []string{"*.tmp"}, expected: false},
		{name: "anything", patterns: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldSkip(tt.name, tt.patterns); got != tt.expected {
				t.Errorf("ShouldSkip(%q, %v) = %v, want %v", tt.name, tt.patterns, got, tt.expected)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	if StatusSuccess.String() != "success" || StatusFailed.String() != "failed" || StatusCanceled.String() != "canceled" {
		t.Error("unexpected status strings")
	}
	if Status(99).String() != "unknown" {
		t.Error("expected unknown for out of range status")
	}
}

func TestSummaryString(t *testing.T) {
	s := Summarize([]Result{
		{Job: Job{Size: 1000}, Status: StatusSuccess},
		{Job: Job{Size: 500}, Status: StatusFailed},
	})
	if got := s.String(); got != "1 uploaded (1.0 kB), 1 failed, 0 canceled" {
		t.Errorf("unexpected summary string: %s", got)
	}
}
