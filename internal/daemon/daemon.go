// Package daemon drives the pipeline continuously: one polling worker per
// stage, a periodic backlog sampler, and hot-reload of the configuration
// file. The daemon owns no pipeline logic; every step goes through the
// dispatcher.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
	"github.com/Nomoos/PrismQ-sub002/internal/config"
	"github.com/Nomoos/PrismQ-sub002/internal/dispatch"
	"github.com/Nomoos/PrismQ-sub002/internal/metrics"
	"github.com/Nomoos/PrismQ-sub002/internal/retry"
	"github.com/Nomoos/PrismQ-sub002/internal/store"
)

// Daemon runs stage workers until stopped.
type Daemon struct {
	cat      *catalog.Catalog
	disp     *dispatch.Dispatcher
	stories  *store.StoryRepo
	recorder metrics.Recorder

	mu      sync.RWMutex
	enabled map[string]bool
	poll    time.Duration
	policy  retry.Policy

	samplerInterval time.Duration

	scheduler gocron.Scheduler
	watcher   *ConfigWatcher
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// New wires a daemon from an already validated configuration.
func New(cfg *config.Config, cat *catalog.Catalog, disp *dispatch.Dispatcher, stories *store.StoryRepo, recorder metrics.Recorder) (*Daemon, error) {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	d := &Daemon{
		cat:             cat,
		disp:            disp,
		stories:         stories,
		recorder:        recorder,
		scheduler:       scheduler,
		samplerInterval: cfg.SamplerInterval(),
	}
	d.applyConfig(cfg)
	return d, nil
}

// WatchConfig attaches a file watcher so edits to configPath reload the
// enabled-stage set, poll interval, and retry policy without a restart.
func (d *Daemon) WatchConfig(configPath string) error {
	w, err := NewConfigWatcher(configPath, d)
	if err != nil {
		return err
	}
	d.watcher = w
	return nil
}

// Start launches one worker per non-terminal stage plus the backlog sampler.
// Workers for stages outside the enabled set idle until a reload enables
// them.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	for _, name := range d.cat.Stages() {
		m, ok := d.cat.Manifest(name)
		if !ok || m.Terminal() {
			continue
		}
		stageName := name
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runWorker(ctx, stageName)
		}()
	}

	if _, err := d.scheduler.NewJob(
		gocron.DurationJob(d.samplerInterval),
		gocron.NewTask(d.sampleBacklog, ctx),
		gocron.WithName("backlog-sampler"),
	); err != nil {
		return fmt.Errorf("schedule backlog sampler: %w", err)
	}
	d.scheduler.Start()

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			return err
		}
	}

	slog.Info("Daemon started",
		"workers", len(d.cat.Stages())-len(d.cat.TerminalStages()),
		"poll_interval", d.pollInterval().String())
	return nil
}

// Stop cancels the workers and waits for them to drain, bounded by ctx.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("Stopping daemon")

	if d.cancel != nil {
		d.cancel()
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.scheduler.Shutdown(); err != nil {
		slog.Error("Error shutting down scheduler", "error", err)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("daemon shutdown timed out: %w", ctx.Err())
	}
}

// ReloadConfig swaps the runtime-tunable settings. The new configuration is
// already validated by the loader; a failed load never reaches here.
func (d *Daemon) ReloadConfig(cfg *config.Config) {
	d.applyConfig(cfg)
	slog.Info("Configuration reloaded",
		"enabled_stages", len(cfg.EnabledStages(d.cat)),
		"poll_interval", cfg.PollInterval().String())
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	enabled := make(map[string]bool)
	for _, name := range cfg.EnabledStages(d.cat) {
		enabled[name] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	d.poll = cfg.PollInterval()
	d.policy = cfg.RetryPolicy()
}

func (d *Daemon) stageEnabled(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled[name]
}

func (d *Daemon) pollInterval() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.poll
}

func (d *Daemon) retryPolicy() retry.Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policy
}
