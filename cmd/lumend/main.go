// Command lumend runs the lighting control server: it loads a demonstration
// patch and set of graph instances into an in-memory repository, starts the
// tick engine, and bridges its frames out to Art-Net and to any WebSocket
// subscribers. Its shape mirrors the teacher's top-level main: parse flags,
// build a root logger, wire the long-lived components together, then block
// on a signal before closing the tick engine and then the Art-Net bridge.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/lumenstage/lumen/internal/artnet"
	"github.com/lumenstage/lumen/internal/compiler"
	"github.com/lumenstage/lumen/internal/config"
	"github.com/lumenstage/lumen/internal/gateway"
	"github.com/lumenstage/lumen/internal/metrics"
	"github.com/lumenstage/lumen/internal/model"
	"github.com/lumenstage/lumen/internal/repo"
	"github.com/lumenstage/lumen/internal/tickengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetFlags(log.Flags() &^ log.Ldate) // drop the date, same as the teacher's top-level main

	cfg := config.FromEnv(config.Default())
	arg.MustParse(&cfg)

	logf := func(format string, v ...interface{}) {
		log.Printf("lumend: "+format, v...)
	}

	r := repo.NewInMemory()
	if err := seedDemoShow(r); err != nil {
		log.Fatalf("lumend: seeding demo show: %v", err)
	}

	engine, err := tickengine.New(r, cfg.TickHz, loggerWithPrefix(logf, "tickengine"))
	if err != nil {
		log.Fatalf("lumend: starting tick engine: %v", err)
	}

	bridge := artnet.New(
		artnet.Config{Enabled: cfg.ArtnetEnabled, BroadcastAddr: cfg.ArtnetBroadcast, Port: cfg.ArtnetPort},
		fixtureLookup(r),
		loggerWithPrefix(logf, "artnet"),
	)
	if err := bridge.Open(); err != nil {
		log.Fatalf("lumend: opening Art-Net bridge: %v", err)
	}

	gw := gateway.New(engine, loggerWithPrefix(logf, "gateway"))
	engine.OnCompile = func(graphID string, errs []compiler.CompileError) {
		gw.BroadcastCompileResult(graphID, errs)
	}
	engine.OnInstanceChange = func([]tickengine.InstanceStatus) {
		gw.BroadcastRuntimeStatus()
	}
	r.OnChange = func() {
		gw.BroadcastShowChanged(showSnapshot(r))
	}

	if err := loadAllGraphs(engine, r); err != nil {
		log.Fatalf("lumend: loading graph instances: %v", err)
	}

	mets := &metrics.Metrics{Listen: cfg.MetricsListen}
	if err := mets.Init(); err != nil {
		log.Fatalf("lumend: initializing metrics: %v", err)
	}
	if err := mets.Start(); err != nil {
		log.Fatalf("lumend: starting metrics server: %v", err)
	}

	engine.OnTick = func(d time.Duration) {
		mets.ObserveTick(d.Seconds())
		mets.SetActiveInstances(engine.ActiveInstanceCount())
	}

	var lastDropped, lastSendFailures uint64
	if err := engine.Start(func(frame tickengine.Frame) {
		if err := bridge.Send(frame); err != nil {
			logf("artnet: %v", err)
		}
		gw.Broadcast(frame)

		mets.IncDMXSend()
		if failures := bridge.SendFailures(); failures > lastSendFailures {
			for i := uint64(0); i < failures-lastSendFailures; i++ {
				mets.IncDMXSendFailure()
			}
			lastSendFailures = failures
		}

		mets.SetGatewaySubscribers(gw.SubscriberCount())
		if dropped := engine.DroppedCommands(); dropped > lastDropped {
			mets.AddDroppedCommands(dropped - lastDropped)
			lastDropped = dropped
		}
	}); err != nil {
		log.Fatalf("lumend: starting tick engine loop: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	go func() {
		logf("gateway: listening on %s", cfg.GatewayListen)
		if err := http.ListenAndServe(cfg.GatewayListen, mux); err != nil {
			logf("gateway: server exited: %v", err)
		}
	}()

	logf("running: tick_hz=%.1f artnet_enabled=%v gateway=%s metrics=%s", cfg.TickHz, cfg.ArtnetEnabled, cfg.GatewayListen, cfg.MetricsListen)

	waitForSignal()

	logf("shutting down...")
	if err := engine.Close(); err != nil {
		logf("tick engine close: %v", err)
	}
	if err := bridge.Close(); err != nil {
		logf("artnet bridge close: %v", err)
	}
	logf("goodbye")
}

// waitForSignal blocks until SIGINT or SIGTERM, the same signal set the
// teacher's own waitForSignal watches.
func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals
}

func loggerWithPrefix(logf func(format string, v ...interface{}), component string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		logf(component+": "+format, v...)
	}
}

// fixtureLookup adapts the repository's patch into the plain maps the
// Art-Net bridge wants on every frame.
func fixtureLookup(r *repo.Repo) func() (map[string]model.Fixture, map[string]model.FixtureModel) {
	return func() (map[string]model.Fixture, map[string]model.FixtureModel) {
		fixtures := map[string]model.Fixture{}
		if list, err := r.Fixtures.List(); err == nil {
			for _, f := range list {
				fixtures[f.ID] = f
			}
		}
		models := map[string]model.FixtureModel{}
		if list, err := r.FixtureModels.List(); err == nil {
			for _, m := range list {
				models[m.ID] = m
			}
		}
		return fixtures, models
	}
}

// showSnapshot builds the payload broadcast in a show/changed message: every
// fixture, fixture model, group, input, and graph currently on record.
func showSnapshot(r *repo.Repo) map[string]interface{} {
	fixtures, _ := r.Fixtures.List()
	models, _ := r.FixtureModels.List()
	groups, _ := r.Groups.List()
	inputs, _ := r.Inputs.List()
	graphs, _ := r.Graphs.List()
	return map[string]interface{}{
		"fixtures":       fixtures,
		"fixture_models": models,
		"groups":         groups,
		"inputs":         inputs,
		"graphs":         graphs,
	}
}

// loadAllGraphs loads every graph currently in the repository as an enabled
// instance of itself, named after its own id. This is the demonstration
// entrypoint's wiring, not a general multi-instance authoring API.
func loadAllGraphs(engine *tickengine.Engine, r *repo.Repo) error {
	graphs, err := r.Graphs.List()
	if err != nil {
		return fmt.Errorf("listing graphs: %w", err)
	}
	for _, g := range graphs {
		if !g.Enabled {
			continue
		}
		if err := engine.LoadInstance(g.ID, g.ID); err != nil {
			return fmt.Errorf("loading instance for graph %s: %w", g.ID, err)
		}
	}
	return nil
}
