package updater

import (
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// startDeferred fetches lazy package files and resources of the confirmed
// release in the background. Files that fail are marked pending and picked
// up again by the next run; they never trigger a rollback.
func (u *Updater) startDeferred() {
	u.mu.Lock()
	rc := u.sess.ActiveReleaseConfig
	if u.deferring || u.fatal != nil || rc == nil || !u.sess.Healthy() || u.bgCtx.Err() != nil {
		u.mu.Unlock()
		return
	}
	if len(rc.DeferredFiles()) == 0 {
		u.mu.Unlock()
		return
	}
	u.deferring = true
	u.wg.Add(1)
	u.mu.Unlock()

	go func() {
		defer u.wg.Done()
		u.fetchDeferred(u.bgCtx, rc)
		u.mu.Lock()
		u.deferring = false
		u.mu.Unlock()
	}()
}

// WaitDeferred blocks until the running deferred fetch, if any, is done.
func (u *Updater) WaitDeferred() {
	u.wg.Wait()
}

func (u *Updater) fetchDeferred(ctx context.Context, rc *domain.ReleaseConfig) {
	sess := u.Session()
	run := uuid.NewString()
	started := u.clock.Now()
	updates := make(map[string]domain.ResourceVersion)

	fetch := func(ref domain.FileRef, dest string) {
		cur, seen := sess.ResourceVersions[ref.FilePath]
		if seen && deferredReady(sess, ref) {
			if _, err := os.Stat(dest); err == nil {
				return
			}
		}
		rv := domain.ResourceVersion{Checksum: ref.Checksum, URL: ref.URL, Status: domain.ResourceDownloaded}
		if err := fetchFile(ctx, u.dl, ref, dest); err != nil {
			if ctx.Err() != nil {
				return
			}
			rv.Status = domain.ResourcePending
			if seen && cur.Checksum == ref.Checksum && cur.URL == ref.URL {
				rv.Attempts = cur.Attempts
			}
			rv.Attempts++
			u.logger.Warn("deferred download failed, will retry", "file", ref.FilePath, "attempts", rv.Attempts, "error", err)
			u.emit(domain.EventDeferredDownloadFailed, run, ref.FilePath, started, rc, err)
		} else {
			u.emit(domain.EventDeferredDownloadCompleted, run, ref.FilePath, started, rc, nil)
		}
		updates[ref.FilePath] = rv
	}

	pkgDir := u.ws.PackageDir(rc.Package.Version)
	for _, ref := range rc.Package.Lazy {
		fetch(ref, localPath(pkgDir, ref.FilePath))
	}
	for _, ref := range rc.Resources {
		fetch(ref, u.ws.ResourcePath(ref.FilePath))
	}
	if len(updates) == 0 {
		return
	}

	u.applyMu.Lock()
	defer u.applyMu.Unlock()

	u.mu.Lock()
	if u.sess.ActiveConfigVersion != rc.Version || u.fatal != nil {
		// A newer release took over while files were downloading.
		u.mu.Unlock()
		return
	}
	next := u.sess.Clone()
	u.mu.Unlock()

	if next.ResourceVersions == nil {
		next.ResourceVersions = make(map[string]domain.ResourceVersion)
	}
	for path, rv := range updates {
		next.ResourceVersions[path] = rv
	}
	if err := u.store.Save(context.WithoutCancel(ctx), next); err != nil {
		u.logger.Warn("failed to record deferred downloads", "error", err)
		return
	}
	u.mu.Lock()
	u.sess = next
	u.mu.Unlock()
}
