// Package updater implements the on-device update state machine.
//
// An Updater walks one attempt at a time through
//
//	Idle -> CheckFetching -> ConfigCompared -> UpdateAvailable -> Downloading
//	     -> Verifying -> Applying -> AwaitingBootConfirmation -> BootConfirmed -> Idle
//
// with NoUpdate, BootFailed, RollingBack, RolledBack and RollbackFailed on the
// failure paths. The session is written to the SessionStore only at stable
// checkpoints, each as a single atomic record: after apply, after boot
// confirmation, after rollback and after deferred downloads. A process that
// dies at any other point restarts from the previous checkpoint.
//
// Files are downloaded in parallel into a per-attempt staging directory of
// the Workspace, hashed while streaming and hashed again from disk before the
// staging directory is renamed into place.
package updater
