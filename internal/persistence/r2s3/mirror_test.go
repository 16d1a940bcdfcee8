package r2s3

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
	"testing"
	"time"
)

func TestClient_PutFileSignsRequest(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody string
		gotAuth string
		gotHash string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody = r.URL.Path, string(b)
		gotAuth, gotHash = r.Header.Get("Authorization"), r.Header.Get("x-amz-content-sha256")
		mu.Unlock()
		if r.Method != http.MethodPut {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "forms", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "a.form.zst")
	if err := os.WriteFile(local, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "forms/0_64_0.form.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/forms/forms/0_64_0.form.zst" || gotBody != "hello" {
		t.Fatalf("path=%q body=%q", gotPath, gotBody)
	}
	// sha256("hello")
	if gotHash != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("payload hash=%q", gotHash)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260102/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth=%q", gotAuth)
	}
}

func TestClient_PutFileReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "denied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, _ := New(Config{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	local := filepath.Join(t.TempDir(), "x")
	_ = os.WriteFile(local, []byte("x"), 0o644)
	err := c.PutFile(context.Background(), "x", local)
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err=%v want status=403", err)
	}
	if err := c.PutFile(context.Background(), "../escape", local); err == nil {
		t.Fatalf("expected bad key error")
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Endpoint: "r2.example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error")
	}
}

type fakePutter struct {
	mu    sync.Mutex
	fails int
	keys  []string
}

func (f *fakePutter) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_UploadsWithRetry(t *testing.T) {
	data := t.TempDir()
	put := &fakePutter{fails: 2}
	m := NewMirror(put, MirrorOptions{
		DataDir: data,
		Prefix:  "/bench-1/",
		Workers: 1,
		Backoff: func(int) time.Duration { return 0 },
	})
	m.Enqueue(filepath.Join(data, "forms", "1_2_3.form.zst"))
	m.Enqueue(filepath.Join(t.TempDir(), "outside"))
	m.Close()

	if len(put.keys) != 1 || put.keys[0] != "bench-1/forms/1_2_3.form.zst" {
		t.Fatalf("keys=%v", put.keys)
	}
	st := m.Stats()
	if st.Enqueued != 2 || st.Uploaded != 1 || st.Failed != 1 || st.Dropped != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_BreakerFailsFast(t *testing.T) {
	data := t.TempDir()
	put := &fakePutter{fails: 100}
	m := NewMirror(put, MirrorOptions{
		DataDir:   data,
		Workers:   1,
		Attempts:  1,
		TripAfter: 2,
		OpenFor:   time.Hour,
	})
	for _, name := range []string{"a", "b", "c", "d"} {
		m.Enqueue(filepath.Join(data, name))
	}
	m.Close()

	put.mu.Lock()
	left := put.fails
	put.mu.Unlock()
	if calls := 100 - left; calls != 2 {
		t.Fatalf("put calls=%d want 2 before the breaker opened", calls)
	}
	st := m.Stats()
	if st.Failed != 4 || st.Uploaded != 0 || st.Breaker != "open" {
		t.Fatalf("stats=%+v", st)
	}
}
