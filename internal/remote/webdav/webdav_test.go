package webdav

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"habitsync/internal/remote"
	"habitsync/internal/snapshot"
)

// fakeDAV is a minimal WebDAV server keeping files in memory
type fakeDAV struct {
	mu          sync.Mutex
	files       map[string][]byte
	collections map[string]bool
	failPut     map[string]int // path suffix -> status
	status      int            // when non-zero, every request gets this status
	requests    []string
}

func newFakeDAV(collections ...string) *fakeDAV {
	f := &fakeDAV{
		files:       make(map[string][]byte),
		collections: make(map[string]bool),
		failPut:     make(map[string]int),
	}
	for _, c := range collections {
		f.collections[c] = true
	}
	return f
}

func (f *fakeDAV) has(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[p]
	return ok
}

func (f *fakeDAV) hasCollection(c string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[c]
}

func (f *fakeDAV) takeRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests
	f.requests = nil
	return reqs
}

func (f *fakeDAV) failPutsEnding(suffix string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut[suffix] = status
}

func (f *fakeDAV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	user, pass, ok := r.BasicAuth()
	if !ok || user != "alice" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}

	p := r.URL.Path
	switch r.Method {
	case http.MethodGet:
		data, ok := f.files[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	case http.MethodPut:
		for suffix, status := range f.failPut {
			if strings.HasSuffix(p, suffix) {
				w.WriteHeader(status)
				return
			}
		}
		if !f.collections[path.Dir(p)] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_, existed := f.files[p]
		f.files[p] = data
		if existed {
			w.WriteHeader(http.StatusNoContent)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
	case http.MethodDelete:
		if _, ok := f.files[p]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.files, p)
		w.WriteHeader(http.StatusNoContent)
	case "MKCOL":
		c := strings.TrimSuffix(p, "/")
		if f.collections[c] {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f.collections[c] = true
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, dav *fakeDAV, collectionPath string) *Store {
	t.Helper()
	srv := httptest.NewServer(dav)
	t.Cleanup(srv.Close)

	s, err := New(remote.Config{
		Type:      "webdav",
		Name:      "test-drive",
		URL:       srv.URL + collectionPath,
		Username:  "alice",
		Password:  "secret",
		FileID:    "habits.json",
		AllowHTTP: true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func encodedSnapshot(t *testing.T, producer string, settings int) []byte {
	t.Helper()
	snap := snapshot.Snapshot{Header: snapshot.Header{ProducedBy: producer, ProducedAt: 1000}}
	for i := 0; i < settings; i++ {
		snap.Settings = append(snap.Settings, snapshot.Setting{Key: string(rune('a' + i)), Value: "v"})
	}
	if err := snap.Seal(); err != nil {
		t.Fatal(err)
	}
	data, err := snapshot.Encode(snap)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestPutAndGet(t *testing.T) {
	dav := newFakeDAV("/dav/habitsync")
	s := newTestStore(t, dav, "/dav/habitsync/")
	ctx := context.Background()

	body := encodedSnapshot(t, "device-a", 3)
	if err := s.PutBody(ctx, "habits.json", body); err != nil {
		t.Fatalf("PutBody failed: %v", err)
	}

	if !dav.has("/dav/habitsync/habits.json.meta.json") {
		t.Error("metadata sidecar not uploaded")
	}

	h, err := s.GetMetadata(ctx, "habits.json")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if h.ProducedBy != "device-a" || h.RecordCount != 3 {
		t.Errorf("unexpected header: %+v", h)
	}

	got, err := s.GetBody(ctx, "habits.json")
	if err != nil {
		t.Fatalf("GetBody failed: %v", err)
	}
	if string(got) != string(body) {
		t.Error("downloaded body differs from uploaded body")
	}
}

func TestGetMetadataUsesSidecarOnly(t *testing.T) {
	dav := newFakeDAV("/dav")
	s := newTestStore(t, dav, "/dav")
	ctx := context.Background()

	if err := s.PutBody(ctx, "habits.json", encodedSnapshot(t, "device-a", 1)); err != nil {
		t.Fatal(err)
	}
	dav.takeRequests()

	if _, err := s.GetMetadata(ctx, "habits.json"); err != nil {
		t.Fatal(err)
	}
	if reqs := dav.takeRequests(); len(reqs) != 1 || !strings.HasSuffix(reqs[0], ".meta.json") {
		t.Errorf("expected a single sidecar request, got %v", reqs)
	}
}

func TestGetMetadataFallsBackToBody(t *testing.T) {
	dav := newFakeDAV("/dav")
	dav.files["/dav/habits.json"] = encodedSnapshot(t, "device-b", 2)
	s := newTestStore(t, dav, "/dav")

	h, err := s.GetMetadata(context.Background(), "habits.json")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if h.ProducedBy != "device-b" || h.RecordCount != 2 {
		t.Errorf("unexpected header: %+v", h)
	}
}

func TestFailedSidecarUploadDoesNotLeaveStaleMetadata(t *testing.T) {
	dav := newFakeDAV("/dav")
	s := newTestStore(t, dav, "/dav")
	ctx := context.Background()

	if err := s.PutBody(ctx, "habits.json", encodedSnapshot(t, "device-a", 1)); err != nil {
		t.Fatal(err)
	}

	dav.failPutsEnding(".meta.json", http.StatusInternalServerError)
	if err := s.PutBody(ctx, "habits.json", encodedSnapshot(t, "device-b", 2)); err != nil {
		t.Fatalf("PutBody should succeed without its sidecar: %v", err)
	}

	h, err := s.GetMetadata(ctx, "habits.json")
	if err != nil {
		t.Fatal(err)
	}
	if h.ProducedBy != "device-b" {
		t.Errorf("metadata describes the previous snapshot: %+v", h)
	}
}

func TestPutCreatesMissingCollection(t *testing.T) {
	dav := newFakeDAV()
	s := newTestStore(t, dav, "/dav/new")

	if err := s.PutBody(context.Background(), "habits.json", encodedSnapshot(t, "device-a", 0)); err != nil {
		t.Fatalf("PutBody failed: %v", err)
	}
	if !dav.hasCollection("/dav/new") {
		t.Error("collection was not created")
	}
	if !dav.has("/dav/new/habits.json") {
		t.Error("body not stored after creating the collection")
	}
}

func TestPutRejectsInvalidSnapshot(t *testing.T) {
	dav := newFakeDAV("/dav")
	s := newTestStore(t, dav, "/dav")

	err := s.PutBody(context.Background(), "habits.json", []byte(`{"not":"a snapshot"}`))
	if err == nil {
		t.Fatal("expected invalid body to be rejected")
	}
	if reqs := dav.takeRequests(); len(reqs) != 0 {
		t.Errorf("no request should reach the server, got %v", reqs)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, remote.IsNotFound},
		{"forbidden", http.StatusForbidden, remote.IsUnauthorized},
		{"quota", http.StatusInsufficientStorage, remote.IsQuotaExceeded},
		{"server", http.StatusBadGateway, func(err error) bool {
			te, ok := remote.AsTransportError(err)
			return ok && te.Kind == remote.KindServer && te.IsRetryable()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dav := newFakeDAV("/dav")
			dav.status = tt.status
			s := newTestStore(t, dav, "/dav")

			_, err := s.GetBody(context.Background(), "habits.json")
			if err == nil || !tt.check(err) {
				t.Errorf("unexpected error mapping for %d: %v", tt.status, err)
			}
			te, _ := remote.AsTransportError(err)
			if te == nil || te.StatusCode != tt.status {
				t.Errorf("status code not recorded: %+v", te)
			}
		})
	}
}

func TestWrongPassword(t *testing.T) {
	dav := newFakeDAV("/dav")
	srv := httptest.NewServer(dav)
	defer srv.Close()

	s, err := New(remote.Config{Type: "webdav", URL: srv.URL + "/dav", Username: "alice", Password: "nope", AllowHTTP: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetMetadata(context.Background(), "habits.json"); !remote.IsUnauthorized(err) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(newFakeDAV())
	url := srv.URL
	srv.Close()

	s, err := New(remote.Config{Type: "webdav", URL: url + "/dav", Username: "alice", Password: "secret", AllowHTTP: true})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.GetBody(context.Background(), "habits.json")
	te, ok := remote.AsTransportError(err)
	if !ok || te.Kind != remote.KindNetwork || !te.IsRetryable() {
		t.Errorf("expected retryable network error, got %v", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		cfg            remote.Config
		wantErr        bool
		wantCollection string
	}{
		{
			name:           "nextcloud default path",
			cfg:            remote.Config{URL: "https://cloud.example.com", Username: "alice"},
			wantCollection: "https://cloud.example.com/remote.php/dav/files/alice",
		},
		{
			name:           "user from URL",
			cfg:            remote.Config{URL: "https://bob:pw@cloud.example.com/dav/habits/"},
			wantCollection: "https://cloud.example.com/dav/habits",
		},
		{
			name:    "plain http refused",
			cfg:     remote.Config{URL: "http://cloud.example.com", Username: "alice"},
			wantErr: true,
		},
		{
			name:    "no user",
			cfg:     remote.Config{URL: "https://cloud.example.com"},
			wantErr: true,
		},
		{
			name:    "no host",
			cfg:     remote.Config{URL: "/just/a/path", Username: "alice"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s.collection != tt.wantCollection {
				t.Errorf("collection = %q, want %q", s.collection, tt.wantCollection)
			}
		})
	}
}

func TestRegistered(t *testing.T) {
	if _, err := remote.GetTypeConstructor("webdav"); err != nil {
		t.Errorf("webdav remote not registered: %v", err)
	}
}
