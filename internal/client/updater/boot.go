package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// ConfirmBoot reports that the new version started. The active version
// becomes last-known-good and deferred files are fetched in the background.
func (u *Updater) ConfirmBoot(ctx context.Context) error {
	u.applyMu.Lock()
	defer u.applyMu.Unlock()

	u.mu.Lock()
	if u.fatal != nil {
		u.mu.Unlock()
		return u.fatal
	}
	if u.state != domain.StateAwaitingBootConfirmation {
		state := u.state
		u.mu.Unlock()
		return domain.ErrNotAwaitingBoot.WithDetailsf("state %s", state)
	}
	if u.bootTimer != nil {
		u.bootTimer.Stop()
		u.bootTimer = nil
	}
	u.state = domain.StateBootConfirmed
	base := u.sess
	u.mu.Unlock()

	next := base.Clone()
	next.LastKnownGoodConfigVersion = next.ActiveConfigVersion
	next.LastKnownGoodPackageVersion = next.ActivePackageVersion
	next.LastKnownGoodReleaseConfig = next.ActiveReleaseConfig
	next.State = domain.StateIdle
	next.AttemptID = ""
	next.AttemptStartedAt = 0
	next.BootDeadline = 0
	if err := u.store.Save(ctx, next); err != nil {
		// The confirmation window keeps running.
		u.setState(domain.StateAwaitingBootConfirmation)
		u.armBootTimer(base.AttemptID, time.UnixMilli(base.BootDeadline).Sub(u.clock.Now()))
		return fmt.Errorf("persist boot confirmation: %w", err)
	}

	u.mu.Lock()
	u.sess = next
	u.mu.Unlock()
	u.emit(domain.EventBootConfirmed, base.AttemptID, "", attemptStart(base), next.ActiveReleaseConfig, nil)
	u.setState(domain.StateIdle)
	u.logger.Info("boot confirmed", "release", next.ActiveConfigVersion, "package_version", next.ActivePackageVersion)

	if err := u.ws.Prune(next.ActivePackageVersion); err != nil {
		u.logger.Warn("failed to prune old packages", "error", err)
	}
	u.startDeferred()
	return nil
}

// ReportBootFailure rolls back the version awaiting confirmation.
func (u *Updater) ReportBootFailure(ctx context.Context, reason string) error {
	u.mu.Lock()
	if u.fatal != nil {
		u.mu.Unlock()
		return u.fatal
	}
	if u.state != domain.StateAwaitingBootConfirmation {
		state := u.state
		u.mu.Unlock()
		return domain.ErrNotAwaitingBoot.WithDetailsf("state %s", state)
	}
	attemptID := u.sess.AttemptID
	u.mu.Unlock()
	return u.failBoot(ctx, attemptID, reason)
}

func (u *Updater) armBootTimer(attemptID string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.bootTimer != nil {
		u.bootTimer.Stop()
	}
	u.bootTimer = u.clock.AfterFunc(d, func() {
		if err := u.failBoot(u.bgCtx, attemptID, "boot not confirmed within boot_timeout"); err != nil {
			u.logger.Error("rollback after boot timeout failed", "error", err)
		}
	})
}

// failBoot rolls back attemptID if it is still awaiting confirmation.
func (u *Updater) failBoot(ctx context.Context, attemptID, reason string) error {
	u.applyMu.Lock()
	defer u.applyMu.Unlock()

	u.mu.Lock()
	if u.state != domain.StateAwaitingBootConfirmation || u.sess.AttemptID != attemptID {
		u.mu.Unlock()
		return nil
	}
	if u.bootTimer != nil {
		u.bootTimer.Stop()
		u.bootTimer = nil
	}
	u.state = domain.StateBootFailed
	base := u.sess
	u.mu.Unlock()

	u.logger.Warn("boot failed", "release", base.ActiveConfigVersion, "reason", reason)
	return u.rollback(context.WithoutCancel(ctx), attemptID, attemptStart(base), base, base.ActiveReleaseConfig,
		domain.ErrBootFailed.WithDetails(reason))
}

// rollback restores last-known-good over base and blacklists the failed
// package version unless it is the last-known-good one, in one store write. A failed write is fatal. The caller
// holds applyMu.
func (u *Updater) rollback(ctx context.Context, attemptID string, started time.Time, base *domain.UpdateSession, failed *domain.ReleaseConfig, cause error) error {
	u.setState(domain.StateRollingBack)
	u.emit(domain.EventRollbackInitiated, attemptID, "", started, failed, cause)

	next := base.Clone()
	next.ActiveConfigVersion = base.LastKnownGoodConfigVersion
	next.ActivePackageVersion = base.LastKnownGoodPackageVersion
	next.ActiveReleaseConfig = base.LastKnownGoodReleaseConfig
	// A config-only attempt runs the last-known-good package; only the
	// config failed, so the package stays eligible.
	if failed != nil && failed.Package.Version != base.LastKnownGoodPackageVersion && !next.IsRolledBack(failed.Package.Version) {
		next.RolledBackVersions = append(next.RolledBackVersions, failed.Package.Version)
	}
	next.State = domain.StateIdle
	next.AttemptID = ""
	next.AttemptStartedAt = 0
	next.BootDeadline = 0

	if err := u.crash(CrashBeforeRollbackPersist); err != nil {
		return err
	}
	if err := u.store.Save(ctx, next); err != nil {
		fatal := domain.ErrRollbackFailed.WithCause(err)
		marker := base.Clone()
		marker.State = domain.StateRollbackFailed
		if serr := u.store.Save(ctx, marker); serr != nil {
			u.logger.Error("failed to record rollback failure", "error", serr)
		}
		u.mu.Lock()
		u.state = domain.StateRollbackFailed
		u.fatal = fatal
		u.mu.Unlock()
		u.emit(domain.EventRollbackFailed, attemptID, "", started, failed, fatal)
		u.logger.Error("rollback failed, updater halted", "error", err)
		return fatal
	}

	u.mu.Lock()
	u.sess = next
	u.state = domain.StateRolledBack
	u.mu.Unlock()
	u.emit(domain.EventRollbackCompleted, attemptID, "", started, failed, nil)
	u.logger.Info("rolled back", "active_release", next.ActiveConfigVersion, "blacklisted", next.RolledBackVersions)

	if err := u.ws.Prune(next.ActivePackageVersion); err != nil {
		u.logger.Warn("failed to remove rolled back package", "error", err)
	}
	u.setState(domain.StateIdle)
	return nil
}

// attemptStart returns when the attempt behind sess began, or the zero time
// for sessions without one.
func attemptStart(sess *domain.UpdateSession) time.Time {
	if sess.AttemptStartedAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(sess.AttemptStartedAt)
}
