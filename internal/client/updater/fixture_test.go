package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/storage"
)

var errDisk = errors.New("disk full")

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeFetcher serves a fixed release config.
type fakeFetcher struct {
	mu      sync.Mutex
	rc      *domain.ReleaseConfig
	err     error
	hang    bool
	entered chan struct{}
	calls   int
}

func (f *fakeFetcher) FetchReleaseConfig(ctx context.Context, _ string, _ map[string]string) (*domain.ReleaseConfig, bool, error) {
	f.mu.Lock()
	rc, err, hang, entered := f.rc, f.err, f.hang, f.entered
	f.calls++
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if hang {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	if err != nil {
		return nil, false, err
	}
	return rc, rc != nil, nil
}

func (f *fakeFetcher) serve(rc *domain.ReleaseConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rc, f.err, f.hang = rc, nil, false
}

func (f *fakeFetcher) hangUntilCancelled(entered chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang, f.entered = true, entered
}

// fakeCDN serves file content by URL.
type fakeCDN struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  map[string]error
}

func newFakeCDN() *fakeCDN {
	return &fakeCDN{files: make(map[string][]byte), fail: make(map[string]error)}
}

func (c *fakeCDN) Download(_ context.Context, url string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[url]; err != nil {
		return nil, err
	}
	data, ok := c.files[url]
	if !ok {
		return nil, fmt.Errorf("%s: not found", url)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// put publishes content and returns a verified reference to it.
func (c *fakeCDN) put(path string, version int, content string) domain.FileRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	url := fmt.Sprintf("cdn://%s/%d", path, version)
	c.files[url] = []byte(content)
	return domain.FileRef{
		URL:      url,
		FilePath: path,
		Checksum: domain.Checksum([]byte(content)),
		Size:     int64(len(content)),
	}
}

// corrupt replaces the served bytes without touching the reference.
func (c *fakeCDN) corrupt(ref domain.FileRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[ref.URL] = append([]byte("tampered "), c.files[ref.URL]...)
}

func (c *fakeCDN) setFailure(ref domain.FileRef, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, ref.URL)
		return
	}
	c.fail[ref.URL] = err
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (r *recorder) Emit(ev *domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) has(typ domain.EventType) bool {
	for _, t := range r.types() {
		if t == typ {
			return true
		}
	}
	return false
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// flakyStore fails saves on demand.
type flakyStore struct {
	*storage.SessionStore
	mu       sync.Mutex
	failNext int
	failAll  bool
	saves    int
}

func (s *flakyStore) Save(ctx context.Context, sess *domain.UpdateSession) error {
	s.mu.Lock()
	if s.failAll || s.failNext > 0 {
		if s.failNext > 0 {
			s.failNext--
		}
		s.mu.Unlock()
		return errDisk
	}
	s.saves++
	s.mu.Unlock()
	return s.SessionStore.Save(ctx, sess)
}

func (s *flakyStore) set(failNext int, failAll bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext, s.failAll = failNext, failAll
}

// harness keeps the device state that survives an updater restart.
type harness struct {
	t       *testing.T
	store   *flakyStore
	ws      *Workspace
	fetcher *fakeFetcher
	cdn     *fakeCDN
	clock   *fakeClock
	events  *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ws, err := OpenWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &harness{
		t:       t,
		store:   &flakyStore{SessionStore: storage.NewSessionStore(storage.NewMemoryEngine(), "device")},
		ws:      ws,
		fetcher: &fakeFetcher{},
		cdn:     newFakeCDN(),
		clock:   newFakeClock(),
		events:  &recorder{},
	}
}

func (h *harness) open(hook Hook) *Updater {
	h.t.Helper()
	u, err := Open(context.Background(), Options{
		DeviceID:   "dev-1",
		Dimensions: map[string]string{"region": "eu"},
		Store:      h.store,
		Workspace:  h.ws,
		Fetcher:    h.fetcher,
		Downloader: h.cdn,
		Emitter:    h.events,
		Clock:      h.clock,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Hook:       hook,
	})
	if err != nil {
		h.t.Fatalf("Open() error = %v", err)
	}
	h.t.Cleanup(u.Close)
	return u
}

// release publishes a package with an index and one important file.
func (h *harness) release(id string, pkgVersion int) *domain.ReleaseConfig {
	index := h.cdn.put("index.html", pkgVersion, fmt.Sprintf("<html>v%d</html>", pkgVersion))
	app := h.cdn.put("js/app.js", pkgVersion, fmt.Sprintf("console.log(%d)", pkgVersion))
	return &domain.ReleaseConfig{
		Version: id,
		Config: domain.ReleaseSettings{
			Version:              id,
			ReleaseConfigTimeout: 1000,
			BootTimeout:          5000,
		},
		Package: domain.PackageRef{
			Name:      "main",
			Version:   pkgVersion,
			Index:     index,
			Important: []domain.FileRef{app},
		},
	}
}

// install applies and confirms rc.
func (h *harness) install(u *Updater, rc *domain.ReleaseConfig) {
	h.t.Helper()
	h.fetcher.serve(rc)
	if out, err := u.CheckForUpdate(context.Background()); out != OutcomeUpdated || err != nil {
		h.t.Fatalf("CheckForUpdate() = %s, %v", out, err)
	}
	if err := u.ConfirmBoot(context.Background()); err != nil {
		h.t.Fatalf("ConfirmBoot() error = %v", err)
	}
}

func (h *harness) stored() *domain.UpdateSession {
	h.t.Helper()
	sess, err := h.store.Load(context.Background())
	if err != nil {
		h.t.Fatal(err)
	}
	return sess
}
