package cache_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/simctx"
	"github.com/sarchlab/alphasim/timing/cache"
)

type recordingHook struct {
	events []cache.AccessEvent
}

func (h *recordingHook) Func(ctx sim.HookCtx) {
	if ctx.Pos == cache.HookPosAccess {
		h.events = append(h.events, ctx.Item.(cache.AccessEvent))
	}
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// smallConfig keeps every level on the same set stride (512B for L1 and
// L2) so that conflicts are easy to build.
func smallConfig() cache.Config {
	level := func(size, ways int, latency uint64) cache.LevelConfig {
		return cache.LevelConfig{
			Size:          size,
			Associativity: ways,
			BlockSize:     64,
			Latency:       latency,
			Channels:      1,
		}
	}
	return cache.Config{
		L1I:            level(1024, 2, 1),
		L1D:            level(1024, 2, 1),
		L2:             level(2048, 4, 10),
		L3:             level(4096, 4, 30),
		MemoryLatency:  100,
		MemoryChannels: 1,
	}
}

var _ = Describe("Hierarchy", func() {
	var (
		memory *emu.Memory
		h      *cache.Hierarchy
		ctx    *simctx.Context
	)

	build := func(config cache.Config) {
		var err error
		h, err = cache.NewHierarchy(config, cache.NewMemoryBacking(memory))
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		memory = emu.NewMemory()
		ctx = simctx.New()
		build(smallConfig())
	})

	Describe("Load", func() {
		It("should miss on a cold cache and then hit", func() {
			memory.Write64(0x1000, 0xCAFEBABE)

			data, lat := h.Load(ctx, 0x1000, 8)
			Expect(lat).To(Equal(uint64(1 + 10 + 30 + 100)))
			Expect(binary.LittleEndian.Uint64(data)).To(Equal(uint64(0xCAFEBABE)))

			data, lat = h.Load(ctx, 0x1000, 8)
			Expect(lat).To(Equal(uint64(1)))
			Expect(binary.LittleEndian.Uint64(data)).To(Equal(uint64(0xCAFEBABE)))

			l1d := h.Level("l1d").Stats()
			Expect(l1d.Reads).To(Equal(uint64(2)))
			Expect(l1d.Misses).To(Equal(uint64(1)))
			Expect(l1d.Hits).To(Equal(uint64(1)))
			Expect(h.Level("l2").Stats().Misses).To(Equal(uint64(1)))
			Expect(h.Level("l3").Stats().Misses).To(Equal(uint64(1)))
		})

		It("should hit on another word of the same line", func() {
			memory.Write32(0x1004, 0x22222222)
			h.Load(ctx, 0x1000, 4)

			data, lat := h.Load(ctx, 0x1004, 4)
			Expect(lat).To(Equal(uint64(1)))
			Expect(binary.LittleEndian.Uint32(data)).To(Equal(uint32(0x22222222)))
		})

		It("should fill inclusively so an L1 victim hits in L2", func() {
			h.Load(ctx, 0x000, 8)
			h.Load(ctx, 0x200, 8)
			h.Load(ctx, 0x400, 8)
			Expect(h.Level("l1d").Contains(0x000)).To(BeFalse())
			Expect(h.Level("l2").Contains(0x000)).To(BeTrue())
			Expect(h.Level("l3").Contains(0x000)).To(BeTrue())

			_, lat := h.Load(ctx, 0x000, 8)
			Expect(lat).To(Equal(uint64(11)))
		})

		It("should split accesses that cross a line", func() {
			memory.Write64(0x3C, 0x1122334455667788)

			data, lat := h.Load(ctx, 0x3C, 8)
			Expect(lat).To(Equal(uint64(2 * 141)))
			Expect(binary.LittleEndian.Uint64(data)).To(Equal(uint64(0x1122334455667788)))
			Expect(h.Level("l1d").Stats().Misses).To(Equal(uint64(2)))
		})
	})

	Describe("Store", func() {
		It("should allocate and write back lazily", func() {
			lat := h.Store(ctx, 0x1000, le64(0x12345678))
			Expect(lat).To(Equal(uint64(141)))
			Expect(memory.Read64(0x1000)).To(BeZero())

			data, lat := h.Load(ctx, 0x1000, 8)
			Expect(lat).To(Equal(uint64(1)))
			Expect(binary.LittleEndian.Uint64(data)).To(Equal(uint64(0x12345678)))

			h.Flush()
			Expect(memory.Read64(0x1000)).To(Equal(uint64(0x12345678)))
		})

		It("should invalidate the instruction-side copy", func() {
			memory.Write32(0x2000, 0xAAAAAAAA)
			code, _ := h.Fetch(ctx, 0x2000, 4)
			Expect(binary.LittleEndian.Uint32(code)).To(Equal(uint32(0xAAAAAAAA)))

			h.Store(ctx, 0x2000, []byte{0xBB, 0xBB, 0xBB, 0xBB})
			Expect(h.Level("l1i").Contains(0x2000)).To(BeFalse())

			code, _ = h.Fetch(ctx, 0x2000, 4)
			Expect(binary.LittleEndian.Uint32(code)).To(Equal(uint32(0xBBBBBBBB)))
		})

		It("should back-invalidate and merge dirty data on an L2 eviction", func() {
			const a, b, c, d, e = 0x000, 0x200, 0x400, 0x600, 0x800

			h.Store(ctx, a, le64(0xA))
			h.Load(ctx, b, 8)
			h.Load(ctx, a, 8)
			h.Load(ctx, c, 8)
			h.Load(ctx, a, 8)
			h.Load(ctx, d, 8)
			h.Load(ctx, a, 8)
			Expect(h.Level("l1d").Contains(a)).To(BeTrue())

			// a is the LRU line of its L2 set even though L1D keeps using it.
			h.Load(ctx, e, 8)

			Expect(h.Level("l2").Contains(a)).To(BeFalse())
			Expect(h.Level("l1d").Contains(a)).To(BeFalse())
			Expect(h.Level("l2").Stats().Evictions).To(Equal(uint64(1)))
			Expect(h.Level("l2").Stats().Writebacks).To(Equal(uint64(1)))
			Expect(binary.LittleEndian.Uint64(h.Peek(a, 8))).To(Equal(uint64(0xA)))
			Expect(memory.Read64(a)).To(BeZero())

			h.Flush()
			Expect(memory.Read64(a)).To(Equal(uint64(0xA)))
		})
	})

	Describe("bandwidth", func() {
		It("should queue requests on a busy channel", func() {
			config := smallConfig()
			config.L1D.Occupancy = 4
			build(config)

			h.Load(ctx, 0x0, 8)
			_, lat := h.Load(ctx, 0x0, 8)
			Expect(lat).To(Equal(uint64(4 + 1)))
			_, lat = h.Load(ctx, 0x0, 8)
			Expect(lat).To(Equal(uint64(8 + 1)))

			ctx.Cycle = 100
			_, lat = h.Load(ctx, 0x0, 8)
			Expect(lat).To(Equal(uint64(1)))
		})

		It("should pick the channel that frees first", func() {
			config := smallConfig()
			config.L1D.Channels = 2
			config.L1D.Occupancy = 4
			build(config)

			h.Load(ctx, 0x0, 8)
			_, lat := h.Load(ctx, 0x0, 8)
			Expect(lat).To(Equal(uint64(1)))
			_, lat = h.Load(ctx, 0x0, 8)
			Expect(lat).To(Equal(uint64(4 + 1)))
		})
	})

	Describe("debug access", func() {
		It("should not touch statistics", func() {
			memory.Write64(0x100, 7)
			Expect(binary.LittleEndian.Uint64(h.Peek(0x100, 8))).To(Equal(uint64(7)))
			h.Poke(0x100, le64(9))

			for _, l := range h.Levels() {
				Expect(l.Stats()).To(Equal(cache.Statistics{}))
			}

			data, _ := h.Load(ctx, 0x100, 8)
			Expect(binary.LittleEndian.Uint64(data)).To(Equal(uint64(9)))
		})

		It("should update cached copies on poke", func() {
			h.Load(ctx, 0x100, 8)
			h.Poke(0x100, le64(5))

			data, lat := h.Load(ctx, 0x100, 8)
			Expect(lat).To(Equal(uint64(1)))
			Expect(binary.LittleEndian.Uint64(data)).To(Equal(uint64(5)))
		})
	})

	It("should report every level lookup to hooks", func() {
		hook := &recordingHook{}
		h.AcceptHook(hook)

		h.Load(ctx, 0x40, 8)
		h.Load(ctx, 0x40, 8)

		Expect(hook.events).To(HaveLen(4))
		Expect(hook.events[0]).To(Equal(cache.AccessEvent{
			Level: "l1d", Kind: cache.AccessLoad, Addr: 0x40, Hit: false,
		}))
		Expect(hook.events[2].Level).To(Equal("l3"))
		Expect(hook.events[3].Hit).To(BeTrue())
	})

	It("should forget everything on reset", func() {
		h.Load(ctx, 0x0, 8)
		h.Reset()
		Expect(h.Level("l1d").Contains(0x0)).To(BeFalse())
		Expect(h.Level("l1d").Stats().Reads).To(BeZero())
	})
})

var _ = Describe("Config", func() {
	It("should accept the defaults", func() {
		config := cache.DefaultConfig()
		Expect(config.Validate()).To(Succeed())
		Expect(config.L1D.Size).To(Equal(32 * 1024))
		Expect(config.L2.Associativity).To(Equal(8))
		Expect(config.L3.Size).To(Equal(2 * 1024 * 1024))
		Expect(config.MemoryLatency).To(Equal(uint64(100)))
	})

	It("should reject mismatched line sizes", func() {
		config := cache.DefaultConfig()
		config.L2.BlockSize = 128
		Expect(config.Validate()).To(MatchError(cache.ErrInvalidConfig))
	})

	It("should reject a geometry that does not divide", func() {
		config := cache.DefaultConfig()
		config.L1I.Size = 1000
		Expect(config.Validate()).To(MatchError(cache.ErrInvalidConfig))

		_, err := cache.NewHierarchy(config, nil)
		Expect(err).To(HaveOccurred())
	})
})
