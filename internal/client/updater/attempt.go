package updater

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// attempt is one CheckForUpdate run.
type attempt struct {
	id        string
	ctx       context.Context
	startedAt time.Time
	active    *domain.ReleaseConfig
	staging   string
}

// CheckForUpdate runs one update attempt: fetch the release config, compare
// it with the active one, download and verify the required files, then
// apply. On OutcomeUpdated the new version awaits ConfirmBoot.
func (u *Updater) CheckForUpdate(ctx context.Context) (Outcome, error) {
	// 1. Claim the state machine
	u.mu.Lock()
	if u.fatal != nil {
		u.mu.Unlock()
		return OutcomeFatal, u.fatal
	}
	if u.state != domain.StateIdle {
		u.mu.Unlock()
		return OutcomeBusy, nil
	}
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	a := &attempt{
		id:        uuid.NewString(),
		ctx:       actx,
		startedAt: u.clock.Now(),
		active:    u.sess.ActiveReleaseConfig,
	}
	u.cancel = cancel
	u.state = domain.StateCheckFetching
	u.mu.Unlock()

	outcome, err := u.run(a)

	u.mu.Lock()
	u.cancel = nil
	u.mu.Unlock()
	return outcome, err
}

func (u *Updater) run(a *attempt) (Outcome, error) {
	u.emit(domain.EventUpdateCheck, a.id, "", a.startedAt, nil, nil)

	// 2. Fetch the release config within the active release_config_timeout
	rc, found, outcome, err := u.fetchConfig(a)
	if err != nil {
		return u.finish(outcome, err)
	}

	// 3. Compare with the active version
	if err := u.enter(a.ctx, domain.StateConfigCompared); err != nil {
		return u.finish(OutcomeCancelled, err)
	}
	if !found {
		return u.noUpdate(a, nil, OutcomeNoUpdate)
	}
	if err := rc.Validate(); err != nil {
		return u.finish(OutcomeConfigFetchFailed, err)
	}
	if a.active != nil && a.active.Version == rc.Version && a.active.Package.Version == rc.Package.Version {
		return u.noUpdate(a, rc, OutcomeNoUpdate)
	}
	if u.Session().IsRolledBack(rc.Package.Version) {
		u.logger.Info("skipping rolled back package version", "package_version", rc.Package.Version)
		return u.noUpdate(a, rc, OutcomeBlacklisted)
	}

	if err := u.enter(a.ctx, domain.StateUpdateAvailable); err != nil {
		return u.finish(OutcomeCancelled, err)
	}
	u.emit(domain.EventUpdateAvailable, a.id, "", a.startedAt, rc, nil)

	// 4. Download the required files into staging
	if err := u.enter(a.ctx, domain.StateDownloading); err != nil {
		return u.finish(OutcomeCancelled, err)
	}
	u.emit(domain.EventDownloadStarted, a.id, "", a.startedAt, rc, nil)

	// A config-only change keeps the committed package.
	reuse := a.active != nil && a.active.Package.Version == rc.Package.Version && u.ws.HasPackage(rc.Package.Version)
	dir := u.ws.PackageDir(rc.Package.Version)
	if !reuse {
		staging, err := u.ws.NewStaging(a.id)
		if err != nil {
			return u.downloadFailed(a, rc, domain.ErrDownload.WithCause(err))
		}
		a.staging, dir = staging, staging
		if err := fetchAll(a.ctx, u.dl, rc.RequiredFiles(), staging, u.concurrency); err != nil {
			return u.downloadFailed(a, rc, err)
		}
	}
	u.emit(domain.EventDownloadCompleted, a.id, "", a.startedAt, rc, nil)

	// 5. Verify what landed on disk
	if err := u.enter(a.ctx, domain.StateVerifying); err != nil {
		return u.downloadFailed(a, rc, err)
	}
	if err := verifyAll(rc.RequiredFiles(), dir); err != nil {
		return u.downloadFailed(a, rc, err)
	}

	// 6. Apply
	return u.apply(a, rc, reuse)
}

func (u *Updater) fetchConfig(a *attempt) (*domain.ReleaseConfig, bool, Outcome, error) {
	timeout := domain.DefaultReleaseConfigTimeout
	if a.active != nil && a.active.Config.ReleaseConfigTimeout > 0 {
		timeout = a.active.Config.ReleaseConfigTimeout
	}
	fctx, cancel := context.WithTimeout(a.ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	rc, found, err := u.fetcher.FetchReleaseConfig(fctx, u.deviceID, u.dims)
	if err == nil {
		return rc, found, "", nil
	}
	switch {
	case a.ctx.Err() != nil:
		return nil, false, OutcomeCancelled, a.ctx.Err()
	case errors.Is(fctx.Err(), context.DeadlineExceeded):
		terr := domain.ErrConfigFetchTimeout.WithDetailsf("no response within %d ms", timeout)
		u.emit(domain.EventConfigFetchTimeout, a.id, "", a.startedAt, nil, terr)
		return nil, false, OutcomeConfigFetchTimeout, terr
	case domain.IsDomainError(err, ""):
		u.logger.Warn("release config request rejected", "error", err)
		return nil, false, OutcomeConfigFetchFailed, err
	}
	u.logger.Warn("release config fetch failed", "error", err)
	return nil, false, OutcomeConfigFetchFailed, domain.ErrConfigFetch.WithCause(err)
}

func (u *Updater) noUpdate(a *attempt, rc *domain.ReleaseConfig, outcome Outcome) (Outcome, error) {
	u.setState(domain.StateNoUpdate)
	u.emit(domain.EventUpdateNotAvailable, a.id, "", a.startedAt, rc, nil)
	u.setState(domain.StateIdle)
	u.startDeferred()
	return outcome, nil
}

// downloadFailed discards staging and returns to Idle without touching
// the session.
func (u *Updater) downloadFailed(a *attempt, rc *domain.ReleaseConfig, err error) (Outcome, error) {
	if a.staging != "" {
		u.ws.Discard(a.staging)
	}
	if a.ctx.Err() != nil {
		return u.finish(OutcomeCancelled, a.ctx.Err())
	}
	u.emit(domain.EventDownloadFailed, a.id, "", a.startedAt, rc, err)
	if errors.Is(err, domain.ErrIntegrity) {
		u.logger.Warn("integrity check failed", "release", rc.Version, "error", err)
		return u.finish(OutcomeIntegrityError, err)
	}
	u.logger.Warn("download failed", "release", rc.Version, "error", err)
	return u.finish(OutcomeDownloadFailed, err)
}

func (u *Updater) finish(outcome Outcome, err error) (Outcome, error) {
	u.setState(domain.StateIdle)
	return outcome, err
}

// apply commits the staged package and persists the swapped session in a
// single store write. Once Applying is entered the attempt can no longer
// be cancelled.
func (u *Updater) apply(a *attempt, rc *domain.ReleaseConfig, reuse bool) (Outcome, error) {
	u.applyMu.Lock()
	defer u.applyMu.Unlock()

	if err := u.enter(a.ctx, domain.StateApplying); err != nil {
		return u.downloadFailed(a, rc, err)
	}
	ctx := context.WithoutCancel(a.ctx)
	u.emit(domain.EventApplyStarted, a.id, "", a.startedAt, rc, nil)

	u.mu.Lock()
	base := u.sess
	u.mu.Unlock()

	if err := u.crash(CrashBeforeCommit); err != nil {
		return OutcomeAborted, err
	}
	if !reuse {
		if err := u.ws.Commit(a.staging, rc.Package.Version); err != nil {
			u.ws.Discard(a.staging)
			return u.applyFailed(ctx, a, base, rc, err)
		}
	}
	if err := u.crash(CrashAfterCommit); err != nil {
		return OutcomeAborted, err
	}

	bootTimeout := rc.Config.BootTimeout
	if bootTimeout <= 0 {
		bootTimeout = domain.DefaultBootTimeout
	}
	window := time.Duration(bootTimeout) * time.Millisecond

	next := base.Clone()
	next.DimensionContext = u.dims
	next.ActiveConfigVersion = rc.Version
	next.ActivePackageVersion = rc.Package.Version
	next.ActiveReleaseConfig = rc
	next.State = domain.StateAwaitingBootConfirmation
	next.AttemptID = a.id
	next.AttemptStartedAt = a.startedAt.UnixMilli()
	next.BootDeadline = u.clock.Now().Add(window).UnixMilli()
	if err := u.store.Save(ctx, next); err != nil {
		return u.applyFailed(ctx, a, base, rc, err)
	}
	if err := u.crash(CrashAfterPersist); err != nil {
		return OutcomeAborted, err
	}

	u.mu.Lock()
	u.sess = next
	u.state = domain.StateAwaitingBootConfirmation
	u.mu.Unlock()
	u.emit(domain.EventApplySuccess, a.id, "", a.startedAt, rc, nil)
	u.logger.Info("update applied, awaiting boot confirmation",
		"release", rc.Version,
		"package_version", rc.Package.Version,
		"boot_timeout", window)

	u.armBootTimer(a.id, window)
	return OutcomeUpdated, nil
}

func (u *Updater) applyFailed(ctx context.Context, a *attempt, base *domain.UpdateSession, rc *domain.ReleaseConfig, cause error) (Outcome, error) {
	err := domain.ErrApply.WithCause(cause)
	u.logger.Error("apply failed", "release", rc.Version, "error", cause)
	u.emit(domain.EventApplyFailure, a.id, "", a.startedAt, rc, err)
	if rerr := u.rollback(ctx, a.id, a.startedAt, base, rc, err); rerr != nil {
		return OutcomeFatal, rerr
	}
	return OutcomeRolledBack, err
}
