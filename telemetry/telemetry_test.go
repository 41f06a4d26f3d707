package telemetry_test

import (
	"bytes"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/simctx"
	"github.com/sarchlab/alphasim/telemetry"
	"github.com/sarchlab/alphasim/timing/cache"
	"github.com/sarchlab/alphasim/timing/latency"
	"github.com/sarchlab/alphasim/timing/pipeline"
)

var _ = Describe("Monitor", func() {
	var m *telemetry.Monitor

	fire := func(pos *sim.HookPos, item any) {
		m.Func(sim.HookCtx{Pos: pos, Item: item})
	}

	BeforeEach(func() {
		cfg := latency.DefaultTimingConfig()
		cfg.StaticEnergy = 0.5
		m = telemetry.NewMonitor(latency.NewTableWithConfig(cfg))
	})

	It("should count retirements per core and derive IPC", func() {
		add := insts.MustNew(insts.OpADD, 0, insts.Reg(1), insts.Reg(2), insts.Reg(3))
		for i := 0; i < 4; i++ {
			fire(telemetry.HookPosCycle, telemetry.CycleEvent{Cycle: uint64(i), LiveCores: 2})
		}
		fire(pipeline.HookPosRetire, pipeline.RetireEvent{CoreID: 0, Inst: add})
		fire(pipeline.HookPosRetire, pipeline.RetireEvent{CoreID: 1, Inst: add})

		s := m.Snapshot()
		Expect(s.Cycles).To(Equal(uint64(4)))
		Expect(s.Retired).To(Equal(uint64(2)))
		Expect(s.PerCore).To(Equal(map[int]uint64{0: 1, 1: 1}))
		Expect(s.IPC).To(BeNumerically("~", 0.5))

		dynamic := 2 * latency.NewTable().Energy(insts.OpADD)
		Expect(s.Energy).To(BeNumerically("~", dynamic+4*2*0.5, 1e-9))
		Expect(s.AveragePower).To(BeNumerically("~", s.Energy/4*2, 1e-9))
	})

	It("should count cache resolutions per level", func() {
		fire(cache.HookPosAccess, cache.AccessEvent{Level: "l1d", Hit: false})
		fire(cache.HookPosAccess, cache.AccessEvent{Level: "l1d", Hit: true})
		fire(cache.HookPosAccess, cache.AccessEvent{Level: "l2", Hit: true})

		s := m.Snapshot()
		Expect(s.Levels["l1d"]).To(Equal(telemetry.LevelCounts{Hits: 1, Misses: 1}))
		Expect(s.Levels["l1d"].HitRate()).To(Equal(0.5))
		Expect(s.Levels["l2"].Hits).To(Equal(uint64(1)))
	})

	It("should count branches, flushes and stage transitions", func() {
		fire(pipeline.HookPosBranch, pipeline.BranchEvent{Correct: true})
		fire(pipeline.HookPosBranch, pipeline.BranchEvent{Correct: false})
		fire(pipeline.HookPosFlush, pipeline.FlushEvent{Squashed: 2})
		fire(pipeline.HookPosStage, pipeline.StageEvent{Stage: pipeline.StageDecode})

		s := m.Snapshot()
		Expect(s.BranchCorrect).To(Equal(uint64(1)))
		Expect(s.BranchIncorrect).To(Equal(uint64(1)))
		Expect(s.Flushes).To(Equal(uint64(1)))
		Expect(s.StageTransitions).To(Equal(uint64(1)))
	})

	It("should hand out snapshots that later events do not change", func() {
		fire(cache.HookPosAccess, cache.AccessEvent{Level: "l1i", Hit: true})
		s := m.Snapshot()
		fire(cache.HookPosAccess, cache.AccessEvent{Level: "l1i", Hit: true})
		Expect(s.Levels["l1i"].Hits).To(Equal(uint64(1)))
	})

	It("should clear counters on reset", func() {
		fire(telemetry.HookPosCycle, telemetry.CycleEvent{})
		m.Reset()
		Expect(m.Snapshot().Cycles).To(BeZero())
	})
})

var _ = Describe("Report", func() {
	It("should follow the report schema", func() {
		snap := telemetry.Snapshot{
			Cycles:  10,
			Retired: 5,
			IPC:     0.5,
			Levels:  map[string]telemetry.LevelCounts{"l1i": {Hits: 3, Misses: 1}},
		}
		errs := []*simctx.SimError{{Cycle: 3, CoreID: 1, PC: 0x40, Err: errors.New("boom")}}
		r := telemetry.NewReport(
			telemetry.SimulationInfo{Target: "alpham", Cores: 2, MaxCycles: 100, Halted: true},
			snap,
			[]telemetry.CoreReport{{CoreID: 0, CoreType: "gpc", Status: "halted", InstructionsRetired: 5}},
			errs,
		)

		var buf bytes.Buffer
		Expect(r.WriteJSON(&buf)).To(Succeed())

		var decoded map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &decoded)).To(Succeed())
		Expect(decoded).To(HaveKey("simulation_info"))
		Expect(decoded).To(HaveKey("performance"))

		info := decoded["simulation_info"].(map[string]any)
		Expect(info["total_cycles"]).To(BeNumerically("==", 10))
		Expect(info["instructions_executed"]).To(BeNumerically("==", 5))

		caches := decoded["cache"].(map[string]any)
		Expect(caches).To(HaveLen(4))
		Expect(caches["l1i"].(map[string]any)["hit_rate"]).To(BeNumerically("~", 0.75))

		errList := decoded["errors"].([]any)
		Expect(errList).To(HaveLen(1))
		Expect(errList[0].(map[string]any)["error"]).To(Equal("boom"))
	})

	It("should list no errors as an empty array", func() {
		r := telemetry.NewReport(telemetry.SimulationInfo{}, telemetry.Snapshot{}, nil, nil)
		var buf bytes.Buffer
		Expect(r.WriteJSON(&buf)).To(Succeed())
		Expect(buf.String()).To(ContainSubstring(`"errors": []`))
		Expect(buf.String()).To(ContainSubstring(`"cores": []`))
	})
})
