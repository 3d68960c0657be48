package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/yndnr/otamesh-go/internal/client/updater"
	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/infra/tlsroots"
	"github.com/yndnr/otamesh-go/internal/storage"
)

// flushTimeout bounds the final event flush on Close.
const flushTimeout = 5 * time.Second

// Agent runs update checks for one device.
type Agent struct {
	cfg      *Config
	deviceID string
	kv       storage.KVEngine
	updater  *updater.Updater
	events   *updater.BufferedEmitter
	logger   *slog.Logger
}

// Status is a snapshot of the agent for display.
type Status struct {
	DeviceID      string                `json:"device_id" yaml:"device_id"`
	Server        string                `json:"server" yaml:"server"`
	State         domain.UpdateState    `json:"state" yaml:"state"`
	Session       *domain.UpdateSession `json:"session,omitempty" yaml:"session,omitempty"`
	PendingEvents int                   `json:"pending_events" yaml:"pending_events"`
	DroppedEvents int                   `json:"dropped_events" yaml:"dropped_events"`
	Fatal         string                `json:"fatal,omitempty" yaml:"fatal,omitempty"`
}

// New opens the agent state under cfg.DataDir and recovers any interrupted
// update.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	deviceID := cfg.DeviceID
	if deviceID == "" {
		id, err := loadDeviceID(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		deviceID = id
	}

	kvCfg := storage.DefaultKVConfig(filepath.Join(cfg.DataDir, "state"))
	kvCfg.Badger.SyncWrites = cfg.SyncWrites
	kvCfg.Badger.CacheSize = 8 << 20
	kvCfg.Badger.ValueLogFileSize = 16 << 20
	kv, err := storage.Open(kvCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	ws, err := updater.OpenWorkspace(filepath.Join(cfg.DataDir, "workspace"))
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	tlsCfg, err := tlsroots.ClientConfig(cfg.TLSCAFile)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	remote := updater.NewRemote(cfg.Server, updater.WithTLSConfig(tlsCfg))
	events := updater.NewBufferedEmitter(remote, cfg.EventBuffer)
	u, err := updater.Open(ctx, updater.Options{
		DeviceID:    deviceID,
		Dimensions:  cfg.Dimensions,
		Store:       storage.NewSessionStore(kv, "device"),
		Workspace:   ws,
		Fetcher:     remote,
		Downloader:  remote,
		Emitter:     events,
		Logger:      logger,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	return &Agent{
		cfg:      cfg,
		deviceID: deviceID,
		kv:       kv,
		updater:  u,
		events:   events,
		logger:   logger.With("component", "agent"),
	}, nil
}

// DeviceID returns the device identity.
func (a *Agent) DeviceID() string { return a.deviceID }

// Check runs one update cycle: check, boot probe and event flush.
func (a *Agent) Check(ctx context.Context) (updater.Outcome, error) {
	outcome, err := a.updater.CheckForUpdate(ctx)
	a.logger.Info("update check finished", "outcome", outcome, "state", a.updater.State())
	if err != nil && outcome != updater.OutcomeBusy {
		a.logger.Warn("update check failed", "outcome", outcome, "error", err)
	}

	if outcome == updater.OutcomeUpdated {
		if perr := a.ProbeBoot(ctx); perr != nil {
			a.logger.Error("boot probe failed", "error", perr)
		}
	}
	if ferr := a.events.Flush(ctx); ferr != nil {
		a.logger.Warn("event flush failed", "pending", a.events.Pending(), "error", ferr)
	}
	return outcome, err
}

// ProbeBoot confirms a pending boot when the active package index is
// readable and intact, and reports a boot failure otherwise. It does
// nothing unless a confirmation is pending.
func (a *Agent) ProbeBoot(ctx context.Context) error {
	if a.updater.State() != domain.StateAwaitingBootConfirmation {
		return nil
	}
	if reason := a.probeIndex(); reason != "" {
		a.logger.Warn("boot probe rejected new version", "reason", reason)
		return a.updater.ReportBootFailure(ctx, reason)
	}
	return a.updater.ConfirmBoot(ctx)
}

func (a *Agent) probeIndex() string {
	path, err := a.updater.BundlePath()
	if err != nil {
		return err.Error()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "index unreadable: " + err.Error()
	}
	rc := a.updater.ReadReleaseConfig()
	if rc != nil && rc.Package.Index.Checksum != "" && domain.Checksum(data) != rc.Package.Index.Checksum {
		return "index checksum mismatch"
	}
	return ""
}

// Run checks for updates every CheckInterval and flushes events every
// FlushInterval until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.ProbeBoot(ctx); err != nil {
		a.logger.Error("boot probe failed", "error", err)
	}
	if _, err := a.Check(ctx); errors.Is(err, context.Canceled) {
		return nil
	}

	check := time.NewTicker(a.cfg.CheckInterval)
	defer check.Stop()
	flush := time.NewTicker(a.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-check.C:
			if fatal := a.updater.Fatal(); fatal != nil {
				return fatal
			}
			_, _ = a.Check(ctx)
		case <-flush.C:
			if a.events.Pending() == 0 {
				continue
			}
			if err := a.events.Flush(ctx); err != nil {
				a.logger.Debug("event flush failed", "pending", a.events.Pending(), "error", err)
			}
		}
	}
}

// Status returns the current agent status.
func (a *Agent) Status() Status {
	s := Status{
		DeviceID:      a.deviceID,
		Server:        a.cfg.Server,
		State:         a.updater.State(),
		Session:       a.updater.Session(),
		PendingEvents: a.events.Pending(),
		DroppedEvents: a.events.Dropped(),
	}
	if err := a.updater.Fatal(); err != nil {
		s.Fatal = err.Error()
	}
	return s
}

// Close stops background work, flushes queued events and closes the store.
func (a *Agent) Close() error {
	a.updater.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.events.Flush(ctx); err != nil {
		a.logger.Warn("final event flush failed", "dropped", a.events.Pending(), "error", err)
	}
	return a.kv.Close()
}
