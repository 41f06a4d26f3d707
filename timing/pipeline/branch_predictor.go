package pipeline

// BranchPredictorConfig holds configuration for the branch predictor.
type BranchPredictorConfig struct {
	// BHTSize is the number of entries in the Branch History Table.
	// Must be a power of 2. Default is 1024.
	BHTSize uint32 `json:"bht_size" yaml:"bht_size"`
	// BTBSize is the number of entries in the Branch Target Buffer.
	// Must be a power of 2. Default is 256.
	BTBSize uint32 `json:"btb_size" yaml:"btb_size"`
	// RASDepth is the number of return addresses kept for ret. Zero
	// disables the return stack.
	RASDepth uint32 `json:"ras_depth" yaml:"ras_depth"`
}

// DefaultBranchPredictorConfig returns a default configuration.
func DefaultBranchPredictorConfig() BranchPredictorConfig {
	return BranchPredictorConfig{
		BHTSize:  1024,
		BTBSize:  256,
		RASDepth: 16,
	}
}

// BranchPredictorStats holds the predictor's table statistics. Prediction
// accuracy is counted by the pipeline, which knows the resolved path.
type BranchPredictorStats struct {
	Lookups   uint64
	BTBHits   uint64
	BTBMisses uint64
	// RASPops counts returns predicted from the return stack and
	// RASUnderflows returns that found it empty.
	RASPops       uint64
	RASUnderflows uint64
}

// BTBHitRate returns the BTB hit rate as a percentage.
func (s BranchPredictorStats) BTBHitRate() float64 {
	total := s.BTBHits + s.BTBMisses
	if total == 0 {
		return 0
	}
	return float64(s.BTBHits) / float64(total) * 100
}

// Prediction represents a branch prediction result.
type Prediction struct {
	// Taken indicates whether the branch is predicted to be taken.
	Taken bool
	// Target is the predicted target address (if known from BTB).
	Target uint64
	// TargetKnown indicates whether the target address is known.
	TargetKnown bool
}

// BranchPredictor implements a 2-bit saturating counter (bimodal) predictor
// with a Branch Target Buffer (BTB) and a return address stack (RAS).
type BranchPredictor struct {
	// 0=strongly not taken, 1=weakly not taken, 2=weakly taken,
	// 3=strongly taken
	bht []uint8

	btb      []btbEntry
	btbValid []bool

	bhtSize uint32
	btbSize uint32

	// ras is a circular stack; the oldest entry is overwritten when full.
	ras      []uint64
	rasTop   int
	rasCount int

	stats BranchPredictorStats
}

type btbEntry struct {
	pc     uint64
	target uint64
}

// NewBranchPredictor creates a new branch predictor with the given configuration.
func NewBranchPredictor(config BranchPredictorConfig) *BranchPredictor {
	bhtSize := config.BHTSize
	btbSize := config.BTBSize
	if bhtSize == 0 {
		bhtSize = 1024
	}
	if btbSize == 0 {
		btbSize = 256
	}

	bp := &BranchPredictor{
		bht:      make([]uint8, bhtSize),
		btb:      make([]btbEntry, btbSize),
		btbValid: make([]bool, btbSize),
		bhtSize:  bhtSize,
		btbSize:  btbSize,
		ras:      make([]uint64, config.RASDepth),
	}
	bp.Reset()

	return bp
}

// Instructions are at least 4-byte aligned, so the low two bits carry no
// information.
func (bp *BranchPredictor) bhtIndex(pc uint64) uint32 {
	return uint32((pc >> 2) & uint64(bp.bhtSize-1))
}

func (bp *BranchPredictor) btbIndex(pc uint64) uint32 {
	return uint32((pc >> 2) & uint64(bp.btbSize-1))
}

// Predict makes a branch prediction for the given PC.
func (bp *BranchPredictor) Predict(pc uint64) Prediction {
	pred := Prediction{
		Taken: bp.bht[bp.bhtIndex(pc)] >= 2,
	}

	btbIdx := bp.btbIndex(pc)
	if bp.btbValid[btbIdx] && bp.btb[btbIdx].pc == pc {
		pred.Target = bp.btb[btbIdx].target
		pred.TargetKnown = true
		bp.stats.BTBHits++
	} else {
		bp.stats.BTBMisses++
	}

	bp.stats.Lookups++
	return pred
}

// Update trains the predictor with the resolved branch outcome.
func (bp *BranchPredictor) Update(pc uint64, taken bool, target uint64) {
	bhtIdx := bp.bhtIndex(pc)
	counter := bp.bht[bhtIdx]

	if taken {
		if counter < 3 {
			bp.bht[bhtIdx] = counter + 1
		}
	} else if counter > 0 {
		bp.bht[bhtIdx] = counter - 1
	}

	if taken {
		btbIdx := bp.btbIndex(pc)
		bp.btb[btbIdx] = btbEntry{pc: pc, target: target}
		bp.btbValid[btbIdx] = true
	}
}

// RASCheckpoint is the return stack pointer at some fetch.
type RASCheckpoint struct {
	top   int
	count int
}

// Checkpoint captures the return stack pointer.
func (bp *BranchPredictor) Checkpoint() RASCheckpoint {
	return RASCheckpoint{top: bp.rasTop, count: bp.rasCount}
}

// Restore rewinds the return stack pointer to a checkpoint, undoing the
// pushes and pops of squashed wrong-path fetches. Entries overwritten on
// the wrong path stay overwritten.
func (bp *BranchPredictor) Restore(c RASCheckpoint) {
	bp.rasTop = c.top
	bp.rasCount = c.count
}

// PushReturn records the return address of a call.
func (bp *BranchPredictor) PushReturn(addr uint64) {
	if len(bp.ras) == 0 {
		return
	}
	bp.ras[bp.rasTop] = addr
	bp.rasTop = (bp.rasTop + 1) % len(bp.ras)
	bp.rasCount = min(bp.rasCount+1, len(bp.ras))
}

// PopReturn predicts the target of a return. It reports false when the
// stack is empty or disabled.
func (bp *BranchPredictor) PopReturn() (uint64, bool) {
	if bp.rasCount == 0 {
		bp.stats.RASUnderflows++
		return 0, false
	}
	bp.rasTop = (bp.rasTop - 1 + len(bp.ras)) % len(bp.ras)
	bp.rasCount--
	bp.stats.RASPops++
	return bp.ras[bp.rasTop], true
}

// Stats returns the branch predictor statistics.
func (bp *BranchPredictor) Stats() BranchPredictorStats {
	return bp.stats
}

// Reset clears all predictor state and statistics. Counters start weakly
// taken.
func (bp *BranchPredictor) Reset() {
	for i := range bp.bht {
		bp.bht[i] = 2
	}
	clear(bp.btbValid)
	bp.rasTop = 0
	bp.rasCount = 0
	bp.stats = BranchPredictorStats{}
}
