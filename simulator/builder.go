package simulator

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/mimd"
	"github.com/sarchlab/alphasim/simctx"
	"github.com/sarchlab/alphasim/telemetry"
	"github.com/sarchlab/alphasim/timing/cache"
	"github.com/sarchlab/alphasim/timing/core"
	"github.com/sarchlab/alphasim/timing/latency"
	"github.com/sarchlab/alphasim/timing/pipeline"
)

// Builder can create new simulators.
type Builder struct {
	engine sim.Engine
	freq   sim.Freq
	config Config
	logger *slog.Logger
	runID  xid.ID
	stdout io.Writer
	stderr io.Writer
	hooks  []sim.Hook
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		config: DefaultConfig(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// WithEngine sets the engine. A serial engine is created if none is given.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the global clock. It defaults to timing.clock_ghz.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithConfig sets the simulation configuration.
func (b Builder) WithConfig(config Config) Builder {
	b.config = config.Clone()
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// WithRunID fixes the run identifier.
func (b Builder) WithRunID(id xid.ID) Builder {
	b.runID = id
	return b
}

// WithStdout sets where the write syscall sends descriptor 1.
func (b Builder) WithStdout(w io.Writer) Builder {
	b.stdout = w
	return b
}

// WithStderr sets where the write syscall sends descriptor 2.
func (b Builder) WithStderr(w io.Writer) Builder {
	b.stderr = w
	return b
}

// WithHook attaches an extra hook to every component the monitor observes.
func (b Builder) WithHook(hook sim.Hook) Builder {
	b.hooks = append(append([]sim.Hook(nil), b.hooks...), hook)
	return b
}

// Build creates a simulator. Every core starts idle; Load starts core 0.
func (b Builder) Build(name string) (*Simulator, error) {
	config := b.config.Clone()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}

	target, _ := insts.ParseTarget(config.Target)
	types, _ := config.CoreTypeList()

	engine := b.engine
	if engine == nil {
		engine = sim.NewSerialEngine()
	}
	freq := b.freq
	if freq == 0 {
		freq = sim.Freq(config.Timing.ClockGHz) * sim.GHz
	}

	ctxOpts := []simctx.Option{}
	if b.logger != nil {
		ctxOpts = append(ctxOpts, simctx.WithLogger(b.logger))
	}
	if !b.runID.IsNil() {
		ctxOpts = append(ctxOpts, simctx.WithRunID(b.runID))
	}
	ctx := simctx.New(ctxOpts...)

	memory := emu.NewMemory()
	hierarchy, err := cache.NewHierarchy(config.Memory, cache.NewMemoryBacking(memory))
	if err != nil {
		return nil, err
	}

	table := latency.NewTableWithConfig(config.Timing.Clone())

	views := make([]mimd.Core, len(types))
	coordinator := mimd.NewCoordinator(views, hierarchy)

	s := &Simulator{
		config:      config,
		engine:      engine,
		ctx:         ctx,
		memory:      memory,
		hierarchy:   hierarchy,
		table:       table,
		coordinator: coordinator,
		monitor:     telemetry.NewMonitor(table),
		cores:       make([]*core.Core, len(types)),
	}
	s.TickingComponent = sim.NewTickingComponent(name, engine, freq, s)

	syscalls := emu.NewDefaultSyscallHandler(b.stdout, b.stderr)
	hooks := append([]sim.Hook{s.monitor}, b.hooks...)

	for i, t := range types {
		c := core.NewCore(i, t, hierarchy,
			pipeline.WithConfig(config.Pipeline),
			pipeline.WithTarget(target),
			pipeline.WithLatencyTable(table),
			pipeline.WithCoordinator(coordinator),
			pipeline.WithSyscallHandler(syscalls),
			pipeline.WithLogger(ctx.Logger),
			pipeline.WithSkipInvalid(config.SkipInvalid),
		)
		for _, h := range hooks {
			c.Pipeline.AcceptHook(h)
		}
		views[i] = c
		s.cores[i] = c
	}

	for _, h := range hooks {
		hierarchy.AcceptHook(h)
		coordinator.AcceptHook(h)
		s.AcceptHook(h)
	}

	return s, nil
}
