package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Nomoos/PrismQ-sub002/internal/bus"
	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
	"github.com/Nomoos/PrismQ-sub002/internal/config"
	"github.com/Nomoos/PrismQ-sub002/internal/daemon"
	"github.com/Nomoos/PrismQ-sub002/internal/dispatch"
	"github.com/Nomoos/PrismQ-sub002/internal/eventstore"
	"github.com/Nomoos/PrismQ-sub002/internal/idea"
	"github.com/Nomoos/PrismQ-sub002/internal/metrics"
	"github.com/Nomoos/PrismQ-sub002/internal/selector"
	"github.com/Nomoos/PrismQ-sub002/internal/stage"
	"github.com/Nomoos/PrismQ-sub002/internal/stage/stagetest"
	"github.com/Nomoos/PrismQ-sub002/internal/store"
	"github.com/Nomoos/PrismQ-sub002/internal/transition"
	"github.com/Nomoos/PrismQ-sub002/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"prismq.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Seed struct {
		IdeaRef  string `arg:"" help:"Opaque idea reference for the new story"`
		IdeaBody string `short:"b" help:"Idea body to store in the NATS idea bucket (requires idea_source.nats_url)"`
	} `cmd:"" help:"Create a story in the initial stage"`

	Step struct {
		Stage string `arg:"" help:"Stage to dispatch one step for"`
		Stub  bool   `help:"Use the built-in deterministic stub processors"`
		Score int    `help:"Review score the stub processors return" default:"90"`
	} `cmd:"" help:"Dispatch a single step and exit"`

	Run struct {
		Stub  bool `help:"Use the built-in deterministic stub processors"`
		Score int  `help:"Review score the stub processors return" default:"90"`
	} `cmd:"" help:"Run the pipeline daemon until interrupted"`

	Status  struct{} `cmd:"" help:"Show story counts per stage"`
	Preview struct {
		Stage string `arg:"" help:"Stage to preview selection for"`
	} `cmd:"" help:"Show which story the work selector would pick next"`
	Stages  struct{} `cmd:"" help:"List the stage catalog"`
	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	switch ctx.Command() {
	case "init":
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "seed <idea-ref>":
		err = runSeed(CLI.Seed.IdeaRef, CLI.Seed.IdeaBody)
	case "step <stage>":
		err = runStep(CLI.Step.Stage, CLI.Step.Stub, CLI.Step.Score)
	case "run":
		err = runDaemon(CLI.Run.Stub, CLI.Run.Score)
	case "status":
		err = runStatus()
	case "preview <stage>":
		err = runPreview(CLI.Preview.Stage)
	case "stages":
		runStages()
	case "version":
		fmt.Printf("prismq %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	}
	if err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}

// loadConfig loads the configured file, falling back to defaults when the
// default file is absent.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(CLI.Config); os.IsNotExist(err) {
		if CLI.Config == "prismq.yaml" {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("configuration file not found: %s", CLI.Config)
	}
	return config.Load(CLI.Config)
}

// engine bundles the wired core components.
type engine struct {
	cfg   *config.Config
	cat   *catalog.Catalog
	st    *store.Store
	sel   *selector.Selector
	reg   *stage.Registry
	disp  *dispatch.Dispatcher
	ideas idea.Source

	closers []func()
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func openEngine(cfg *config.Config) (*engine, error) {
	cat := catalog.Default()
	validator := transition.NewValidator(cat)

	st, err := store.Open(cfg.DatabasePath, validator)
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg: cfg,
		cat: cat,
		st:  st,
		sel: selector.New(cat, st.Stories),
		reg: stage.NewRegistry(cat),
	}
	e.closers = append(e.closers, func() { _ = st.Close() })

	if cfg.IdeaSource.NATSURL != "" {
		src, err := idea.NewNATSKVSource(cfg.IdeaSource.NATSURL, cfg.IdeaSource.KVBucket)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.ideas = src
		e.closers = append(e.closers, src.Close)
	} else {
		e.ideas = idea.NewMemorySource(nil)
	}

	e.disp = dispatch.New(cat, st, e.sel, e.reg, e.ideas, cfg.PassThresholdDefault)
	return e, nil
}

// wireSinks attaches the step-event audit log and, when enabled, the NATS
// step publisher.
func (e *engine) wireSinks() error {
	events, err := eventstore.NewSQLiteStore(e.cfg.EventsPath)
	if err != nil {
		return err
	}
	e.closers = append(e.closers, func() { _ = events.Close() })

	sinks := dispatch.MultiSink{eventstore.NewSink(events)}
	if e.cfg.EventsBus.Enabled {
		pub, err := bus.NewPublisher(e.cfg.EventsBus.NATSURL, e.cfg.EventsBus.SubjectPrefix)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, pub.Close)
		sinks = append(sinks, pub)
	}
	e.disp.SetEventSink(sinks)
	return nil
}

// registerProcessors binds processors for the enabled stages. Only the stub
// processors ship with the binary; production deployments register real
// generation and review services through the library API.
func (e *engine) registerProcessors(stub bool, score int) error {
	if !stub {
		return fmt.Errorf("no processors are built in; pass --stub for the deterministic dry-run processors")
	}
	if err := stagetest.RegisterDefaults(e.reg, e.cat, score); err != nil {
		return err
	}
	return e.reg.Validate(e.cfg.EnabledStages(e.cat))
}

func runSeed(ideaRef, ideaBody string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	initial := e.cat.InitialStages()
	if len(initial) == 0 {
		return fmt.Errorf("catalog has no initial stage")
	}

	if ideaBody != "" {
		src, ok := e.ideas.(*idea.NATSKVSource)
		if !ok {
			return fmt.Errorf("storing an idea body requires idea_source.nats_url to be configured")
		}
		if err := src.PutIdea(context.Background(), ideaRef, ideaBody); err != nil {
			return err
		}
	}

	s := store.Story{IdeaRef: ideaRef, State: initial[0]}
	if err := e.st.Stories.Insert(context.Background(), &s); err != nil {
		return err
	}

	slog.Info("Story seeded", "story_id", s.ID, "idea_ref", ideaRef, "stage", s.State)
	return nil
}

func runStep(stageName string, stub bool, score int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.registerProcessors(stub, score); err != nil {
		return err
	}
	if err := e.wireSinks(); err != nil {
		return err
	}

	res, err := e.disp.Step(context.Background(), stageName)
	if err != nil {
		return err
	}

	switch res.Kind {
	case dispatch.ResultAdvanced:
		fmt.Printf("advanced: story %d  %s -> %s\n", res.StoryID, res.From, res.To)
	case dispatch.ResultAlreadyDone:
		fmt.Printf("already done: story %d in %s\n", res.StoryID, res.From)
	default:
		fmt.Printf("no work in %s\n", stageName)
	}
	return nil
}

func runDaemon(stub bool, score int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.registerProcessors(stub, score); err != nil {
		return err
	}
	if err := e.wireSinks(); err != nil {
		return err
	}

	recorder := metrics.Recorder(metrics.NoopRecorder{})
	if cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		go func() {
			slog.Info("Serving metrics", "listen", cfg.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Metrics.Listen, metrics.HTTPHandler(reg)); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}
	e.disp.SetRecorder(recorder)

	d, err := daemon.New(cfg, e.cat, e.disp, e.st.Stories, recorder)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(CLI.Config); statErr == nil {
		if err := d.WatchConfig(CLI.Config); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return err
	}

	slog.Info("Daemon running, waiting for shutdown signal")
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return d.Stop(stopCtx)
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	counts, err := e.st.Stories.CountsByState(context.Background())
	if err != nil {
		return err
	}

	total := 0
	for _, name := range e.cat.Stages() {
		fmt.Printf("%-24s %d\n", name, counts[name])
		total += counts[name]
	}
	fmt.Printf("%-24s %d\n", "total", total)
	return nil
}

func runPreview(stageName string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	pick, err := e.sel.Preview(context.Background(), stageName)
	if err != nil {
		return err
	}
	if pick == nil {
		fmt.Printf("no candidates in %s\n", stageName)
		return nil
	}
	fmt.Printf("next in %s: story %d (idea_ref %s, work version %d, score %.1f, created %s)\n",
		pick.Stage, pick.Story.ID, pick.Story.IdeaRef, pick.WorkVersion, pick.StoryScore,
		pick.Story.CreatedAt.Format(time.RFC3339))
	return nil
}

func runStages() {
	cat := catalog.Default()
	for _, name := range cat.Stages() {
		m, _ := cat.Manifest(name)
		switch {
		case m.Terminal():
			fmt.Printf("%-24s %-14s terminal\n", m.Name, m.Kind)
		case m.Review():
			fmt.Printf("%-24s %-14s pass -> %s, fail -> %s (threshold %d)\n",
				m.Name, m.Kind, m.Pass, m.Fail, m.PassThreshold)
		default:
			fmt.Printf("%-24s %-14s next -> %v\n", m.Name, m.Kind, m.Next)
		}
	}
}
