package updater

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// Outcome summarises one CheckForUpdate call.
type Outcome string

const (
	OutcomeUpdated            Outcome = "updated" // applied, awaiting boot confirmation
	OutcomeNoUpdate           Outcome = "no_update"
	OutcomeBlacklisted        Outcome = "blacklisted"
	OutcomeBusy               Outcome = "busy"
	OutcomeConfigFetchTimeout Outcome = "config_fetch_timeout"
	OutcomeConfigFetchFailed  Outcome = "config_fetch_failed"
	OutcomeDownloadFailed     Outcome = "download_failed"
	OutcomeIntegrityError     Outcome = "integrity_error"
	OutcomeCancelled          Outcome = "cancelled"
	OutcomeRolledBack         Outcome = "rolled_back"
	OutcomeFatal              Outcome = "fatal"
	OutcomeAborted            Outcome = "aborted"
)

// CrashPoint names a step of the apply and rollback paths at which a Hook
// may stop the updater.
type CrashPoint string

const (
	CrashBeforeCommit          CrashPoint = "before_commit"
	CrashAfterCommit           CrashPoint = "after_commit"
	CrashAfterPersist          CrashPoint = "after_persist"
	CrashBeforeRollbackPersist CrashPoint = "before_rollback_persist"
)

// Hook runs at every CrashPoint. A non-nil error stops the attempt on the
// spot and leaves disk state as a process crash at that point would.
type Hook func(CrashPoint) error

// SessionStore persists the device session. Save must replace the stored
// record atomically.
type SessionStore interface {
	Load(ctx context.Context) (*domain.UpdateSession, error)
	Save(ctx context.Context, sess *domain.UpdateSession) error
}

// Options configures an Updater.
type Options struct {
	DeviceID    string
	Dimensions  map[string]string
	Store       SessionStore
	Workspace   *Workspace
	Fetcher     ConfigFetcher
	Downloader  Downloader
	Emitter     Emitter
	Clock       Clock
	Logger      *slog.Logger
	Concurrency int
	Hook        Hook
}

// Updater is the device update state machine. At most one attempt runs at a
// time; the session is only persisted at stable checkpoints.
type Updater struct {
	deviceID    string
	dims        map[string]string
	store       SessionStore
	ws          *Workspace
	fetcher     ConfigFetcher
	dl          Downloader
	emitter     Emitter
	clock       Clock
	logger      *slog.Logger
	concurrency int
	hook        Hook

	// applyMu serialises every session write.
	applyMu sync.Mutex

	mu        sync.Mutex
	state     domain.UpdateState
	sess      *domain.UpdateSession
	cancel    context.CancelFunc
	fatal     error
	bootTimer Timer
	deferring bool

	bgCtx  context.Context
	bgStop context.CancelFunc
	wg     sync.WaitGroup
}

// Open loads the persisted session and recovers from an interrupted run.
// A boot confirmation window still open is re-armed for its remaining
// time; an expired one rolls back before Open returns.
func Open(ctx context.Context, opts Options) (*Updater, error) {
	switch {
	case opts.DeviceID == "":
		return nil, domain.ErrMissingArgument.WithDetails("device id is required")
	case opts.Store == nil || opts.Workspace == nil:
		return nil, domain.ErrMissingArgument.WithDetails("session store and workspace are required")
	case opts.Fetcher == nil || opts.Downloader == nil:
		return nil, domain.ErrMissingArgument.WithDetails("fetcher and downloader are required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Emitter == nil {
		opts.Emitter = discardEmitter{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	bgCtx, bgStop := context.WithCancel(context.Background())
	u := &Updater{
		deviceID:    opts.DeviceID,
		dims:        maps.Clone(opts.Dimensions),
		store:       opts.Store,
		ws:          opts.Workspace,
		fetcher:     opts.Fetcher,
		dl:          opts.Downloader,
		emitter:     opts.Emitter,
		clock:       opts.Clock,
		logger:      opts.Logger.With("component", "updater", "device_id", opts.DeviceID),
		concurrency: opts.Concurrency,
		hook:        opts.Hook,
		state:       domain.StateIdle,
		bgCtx:       bgCtx,
		bgStop:      bgStop,
	}
	if err := u.recover(ctx); err != nil {
		bgStop()
		return nil, err
	}
	return u, nil
}

func (u *Updater) recover(ctx context.Context) error {
	sess, err := u.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		sess = domain.NewUpdateSession(u.deviceID)
	}
	if sess.ResourceVersions == nil {
		sess.ResourceVersions = make(map[string]domain.ResourceVersion)
	}
	if err := u.ws.CleanStaging(); err != nil {
		u.logger.Warn("failed to clean staging area", "error", err)
	}

	u.mu.Lock()
	u.sess = sess
	switch sess.State {
	case domain.StateRollbackFailed:
		u.state = domain.StateRollbackFailed
		u.fatal = domain.ErrRollbackFailed.WithDetails("recovered a failed rollback")
		u.mu.Unlock()
		u.logger.Error("session is unusable after a failed rollback")
		return nil

	case domain.StateAwaitingBootConfirmation:
		u.state = domain.StateAwaitingBootConfirmation
		remaining := time.UnixMilli(sess.BootDeadline).Sub(u.clock.Now())
		u.mu.Unlock()
		if remaining <= 0 {
			u.logger.Warn("boot confirmation window expired while stopped", "release", sess.ActiveConfigVersion)
			if err := u.failBoot(ctx, sess.AttemptID, "boot deadline passed before restart"); err != nil {
				u.logger.Error("rollback during recovery failed", "error", err)
			}
			return nil
		}
		u.logger.Info("resuming boot confirmation window", "release", sess.ActiveConfigVersion, "remaining", remaining)
		u.armBootTimer(sess.AttemptID, remaining)
		return nil
	}
	u.state = domain.StateIdle
	u.mu.Unlock()

	u.startDeferred()
	return nil
}

// Close stops background work. It does not change persisted state.
func (u *Updater) Close() {
	u.mu.Lock()
	if u.bootTimer != nil {
		u.bootTimer.Stop()
		u.bootTimer = nil
	}
	if u.cancel != nil {
		u.cancel()
	}
	u.mu.Unlock()
	u.bgStop()
	u.wg.Wait()
}

// ============================================================================
// Host API
// ============================================================================

// State returns the current state.
func (u *Updater) State() domain.UpdateState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Session returns a copy of the persisted session.
func (u *Updater) Session() *domain.UpdateSession {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sess.Clone()
}

// Fatal returns the error that made the updater unusable, if any.
func (u *Updater) Fatal() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fatal
}

// ReadReleaseConfig returns the active release config, or nil before the
// first update.
func (u *Updater) ReadReleaseConfig() *domain.ReleaseConfig {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sess.ActiveReleaseConfig
}

// Cancel stops the in-flight attempt. It is a no-op when idle and fails
// with ErrCancelNotPermitted once Applying has started.
func (u *Updater) Cancel() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fatal != nil {
		return u.fatal
	}
	switch {
	case u.state == domain.StateIdle, u.state == domain.StateNoUpdate:
		return nil
	case u.state.Cancellable():
		if u.cancel != nil {
			u.cancel()
		}
		return nil
	}
	return domain.ErrCancelNotPermitted.WithDetailsf("state %s", u.state)
}

// BundlePath returns the local path of the active package index file.
func (u *Updater) BundlePath() (string, error) {
	sess, err := u.activeSession()
	if err != nil {
		return "", err
	}
	rc := sess.ActiveReleaseConfig
	return localPath(u.ws.PackageDir(rc.Package.Version), rc.Package.Index.FilePath), nil
}

// FileContent returns a file of the active release. Deferred files are
// available once downloaded.
func (u *Updater) FileContent(path string) ([]byte, error) {
	sess, err := u.activeSession()
	if err != nil {
		return nil, err
	}
	rc := sess.ActiveReleaseConfig

	for _, ref := range rc.RequiredFiles() {
		if ref.FilePath == path {
			return u.ws.ReadPackageFile(rc.Package.Version, path)
		}
	}
	for _, ref := range rc.Package.Lazy {
		if ref.FilePath == path {
			if !deferredReady(sess, ref) {
				return nil, domain.ErrFileUnavailable.WithDetailsf("%s is pending download", path)
			}
			return u.ws.ReadPackageFile(rc.Package.Version, path)
		}
	}
	for _, ref := range rc.Resources {
		if ref.FilePath == path {
			if !deferredReady(sess, ref) {
				return nil, domain.ErrFileUnavailable.WithDetailsf("%s is pending download", path)
			}
			return u.ws.ReadResource(path)
		}
	}
	return nil, domain.ErrFileUnavailable.WithDetails(path)
}

func (u *Updater) activeSession() (*domain.UpdateSession, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fatal != nil {
		return nil, u.fatal
	}
	if u.sess.ActiveReleaseConfig == nil {
		return nil, domain.ErrFileUnavailable.WithDetails("no release installed")
	}
	return u.sess, nil
}

func deferredReady(sess *domain.UpdateSession, ref domain.FileRef) bool {
	rv, ok := sess.ResourceVersions[ref.FilePath]
	return ok && rv.Status == domain.ResourceDownloaded && rv.Checksum == ref.Checksum && rv.URL == ref.URL
}

// ============================================================================
// State helpers
// ============================================================================

func (u *Updater) setState(s domain.UpdateState) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}

// enter moves the attempt to s unless it was cancelled.
func (u *Updater) enter(ctx context.Context, s domain.UpdateState) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	u.state = s
	return nil
}

func (u *Updater) crash(p CrashPoint) error {
	if u.hook == nil {
		return nil
	}
	if err := u.hook(p); err != nil {
		u.logger.Warn("update stopped by hook", "point", p, "error", err)
		return err
	}
	return nil
}

// emit sends an event for attempt. since is when the attempt started and
// sets the time taken; target is the release config the event is about;
// cause marks the event as a failure.
func (u *Updater) emit(typ domain.EventType, attempt, key string, since time.Time, target *domain.ReleaseConfig, cause error) {
	now := u.clock.Now()
	ev := &domain.Event{
		AppUpdateID: attempt,
		DeviceID:    u.deviceID,
		Type:        typ,
		Category:    domain.CategoryLifecycle,
		Label:       typ.Label(),
		Key:         key,
		Outcome:     domain.OutcomeSuccess,
		Timestamp:   now.UnixMilli(),
	}
	if !since.IsZero() && now.After(since) {
		ev.TimeTakenMs = now.Sub(since).Milliseconds()
	}
	if id, err := domain.GenerateEventID(); err == nil {
		ev.EventID = id
	}
	u.mu.Lock()
	ev.CurrentPackageVersion = u.sess.ActivePackageVersion
	u.mu.Unlock()
	if target != nil {
		ev.ReleaseID = target.Version
		ev.TargetPackageVersion = target.Package.Version
	}
	if cause != nil {
		ev.Outcome = domain.OutcomeFailure
		ev.ErrorCode = domain.GetErrorCode(cause)
		ev.ErrorMessage = cause.Error()
	}
	u.emitter.Emit(ev)
}

type discardEmitter struct{}

func (discardEmitter) Emit(*domain.Event) {}
