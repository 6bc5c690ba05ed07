package export

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alfredjeanlab/listings/internal/model"
)

// mockDestination records calls to Write.
type mockDestination struct {
	name   string
	err    error
	writes atomic.Int64
	last   atomic.Value // []byte
}

func (d *mockDestination) Name() string { return d.name }

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return d.err
}

func TestExporter_MultipleDestinations(t *testing.T) {
	dest1 := &mockDestination{name: "one"}
	dest2 := &mockDestination{name: "two"}
	e := NewExporter(seeded(), []Destination{dest1, dest2}, nil)

	if err := e.Export(context.Background(), Options{}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if dest1.writes.Load() != 1 || dest2.writes.Load() != 1 {
		t.Fatalf("writes = %d, %d", dest1.writes.Load(), dest2.writes.Load())
	}
	data, _ := dest1.last.Load().([]byte)
	if got := len(nonEmptyLines(string(data))); got != 4 {
		t.Fatalf("expected 4 lines, got %d", got)
	}
}

func TestExporter_FailingDestinationDoesNotStopOthers(t *testing.T) {
	bad := &mockDestination{name: "bad", err: errors.New("access denied")}
	good := &mockDestination{name: "good"}
	e := NewExporter(seeded(), []Destination{bad, good}, nil)

	err := e.Export(context.Background(), Options{})
	if err == nil || !strings.Contains(err.Error(), "bad: access denied") {
		t.Fatalf("err = %v", err)
	}
	if good.writes.Load() != 1 {
		t.Fatal("good destination skipped")
	}
}

func TestExporter_AfterRun(t *testing.T) {
	dest := &mockDestination{name: "m"}
	e := NewExporter(seeded(), []Destination{dest}, nil)

	failed := &model.Summary{RunID: "run-f", Reports: []*model.RunReport{{SourceName: "insider", Failed: true}}}
	if err := e.AfterRun(context.Background(), failed); err != nil {
		t.Fatal(err)
	}
	if dest.writes.Load() != 0 {
		t.Fatal("failed run exported")
	}

	ok := &model.Summary{RunID: "run-ok", Reports: []*model.RunReport{{SourceName: "insider", State: model.StateDone}}}
	if err := e.AfterRun(context.Background(), ok); err != nil {
		t.Fatal(err)
	}
	data, _ := dest.last.Load().([]byte)
	if !strings.Contains(string(data), `"run_id":"run-ok"`) {
		t.Fatalf("header missing run id: %s", data)
	}
}

func TestFileDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "active.jsonl")
	d := NewFileDestination(path)

	for _, payload := range []string{"first\n", "second\n"} {
		if err := d.Write(context.Background(), []byte(payload)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != payload {
			t.Fatalf("file = %q, want %q", got, payload)
		}
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestS3Destination(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewS3Destination(context.Background(), "listings", "snap/active.jsonl", "us-east-1", srv.URL)
	if err != nil {
		t.Fatalf("NewS3Destination: %v", err)
	}
	if d.Name() != "s3://listings/snap/active.jsonl" {
		t.Errorf("Name = %q", d.Name())
	}
	if err := d.Write(context.Background(), []byte(`{"type":"header"}`+"\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/listings/snap/active.jsonl" {
		t.Errorf("request = %s %s", method, path)
	}
	if !strings.Contains(body, `{"type":"header"}`) {
		t.Errorf("body = %q", body)
	}
}

func TestNewS3Destination_RequiresBucket(t *testing.T) {
	if _, err := NewS3Destination(context.Background(), "", "k", "us-east-1", ""); err == nil {
		t.Fatal("expected error")
	}
}
