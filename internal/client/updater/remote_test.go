package updater

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

func TestRemote_FetchReleaseConfig(t *testing.T) {
	rc := &domain.ReleaseConfig{
		Version: "rel-1",
		Config:  domain.ReleaseSettings{Version: "rel-1", BootTimeout: 7000},
		Package: domain.PackageRef{Name: "main", Version: 3, Index: domain.FileRef{URL: "/files/index.html", FilePath: "index.html"}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/release-config" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		switch q.Get("region") {
		case "eu":
			if q.Get("device_id") != "dev-1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(rc)
		case "bad":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code": "OM-ARG-1002", "message": "missing required argument", "details": "device_id is required",
			})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	r := NewRemote(srv.URL)
	ctx := context.Background()

	got, found, err := r.FetchReleaseConfig(ctx, "dev-1", map[string]string{"region": "eu"})
	if err != nil || !found {
		t.Fatalf("FetchReleaseConfig() = %v, %v", found, err)
	}
	if got.Version != "rel-1" || got.Package.Version != 3 {
		t.Errorf("config = %+v", got)
	}

	if _, found, err := r.FetchReleaseConfig(ctx, "dev-1", map[string]string{"region": "us"}); found || err != nil {
		t.Errorf("204 response = %v, %v", found, err)
	}

	_, _, err = r.FetchReleaseConfig(ctx, "dev-1", map[string]string{"region": "bad"})
	if !domain.IsDomainError(err, "OM-ARG-1002") {
		t.Errorf("error envelope = %v", err)
	}
}

func TestRemote_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/files/index.html" {
			_, _ = io.WriteString(w, "<html/>")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL)
	body, err := r.Download(context.Background(), "/files/index.html")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if string(data) != "<html/>" {
		t.Errorf("body = %q", data)
	}

	if _, err := r.Download(context.Background(), srv.URL+"/files/missing"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestRemote_WithTLSConfig(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, _, err := NewRemote(srv.URL).FetchReleaseConfig(context.Background(), "dev-1", nil)
	if err == nil {
		t.Fatal("untrusted server certificate was accepted")
	}

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())
	r := NewRemote(srv.URL, WithTLSConfig(&tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}))
	if _, found, err := r.FetchReleaseConfig(context.Background(), "dev-1", nil); err != nil || found {
		t.Errorf("FetchReleaseConfig() = found %v, err %v", found, err)
	}

	// A nil config keeps the default transport.
	if NewRemote(srv.URL, WithTLSConfig(nil)).client.Transport != nil {
		t.Error("WithTLSConfig(nil) replaced the transport")
	}
}

type sinkFunc func(ctx context.Context, events []*domain.Event) error

func (f sinkFunc) SendEvents(ctx context.Context, events []*domain.Event) error { return f(ctx, events) }

func TestBufferedEmitter(t *testing.T) {
	var mu sync.Mutex
	var delivered []*domain.Event
	fail := true
	sink := sinkFunc(func(_ context.Context, events []*domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("offline")
		}
		delivered = append(delivered, events...)
		return nil
	})

	e := NewBufferedEmitter(sink, 3)
	for i := 0; i < 5; i++ {
		e.Emit(&domain.Event{AppUpdateID: "a", Type: domain.EventUpdateCheck, Timestamp: int64(i + 1)})
	}
	if e.Pending() != 3 || e.Dropped() != 2 {
		t.Fatalf("pending=%d dropped=%d, want 3/2", e.Pending(), e.Dropped())
	}

	if err := e.Flush(context.Background()); err == nil {
		t.Fatal("Flush() should fail while offline")
	}
	if e.Pending() != 3 {
		t.Errorf("failed flush lost events: pending=%d", e.Pending())
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	if err := e.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Pending() != 0 || len(delivered) != 3 || delivered[0].Timestamp != 3 {
		t.Errorf("delivered %d events, first ts %d", len(delivered), delivered[0].Timestamp)
	}
}

func TestRemote_SendEvents(t *testing.T) {
	var got struct {
		Events []*domain.Event `json:"events"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/events" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"code":"OK","data":{"accepted":1,"duplicates":0}}`)
	}))
	defer srv.Close()

	err := NewRemote(srv.URL).SendEvents(context.Background(), []*domain.Event{
		{AppUpdateID: "a1", DeviceID: "dev-1", Type: domain.EventBootConfirmed, Timestamp: 42},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Events) != 1 || got.Events[0].Type != domain.EventBootConfirmed {
		t.Errorf("server received %+v", got.Events)
	}
}
