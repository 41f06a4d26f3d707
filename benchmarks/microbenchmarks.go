package benchmarks

import (
	"fmt"
	"strings"
)

// GetMicrobenchmarks returns the single-core timing microbenchmarks.
//
// Each one isolates a pipeline behaviour: ALU throughput, forwarding,
// memory latency, call overhead, branch handling and a mixed workload.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		memorySequential(),
		functionCalls(),
		branchTaken(),
		mixedOperations(),
		loopCountdown(),
		multiplyAccumulate(),
	}
}

// GetCoreBenchmarks returns the multi-core benchmarks.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		parallelCounter(4),
		parallelCounter(8),
		spawnJoin(),
	}
}

// exit loads the syscall number and exit code and traps.
func exit(code int) string {
	return fmt.Sprintf("\tldi r0, 0\n\tldi r1, %d\n\tsyscall\n", code)
}

// exitWith exits with the value of register rs.
func exitWith(rs string) string {
	return fmt.Sprintf("\tmov r1, %s\n\tldi r0, 0\n\tsyscall\n", rs)
}

func arithmeticSequential() Benchmark {
	var b strings.Builder
	b.WriteString("_start:\n\tldi r1, 1\n\tldi r2, 2\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "\tadd r%d, r1, r2\n", 4+i%8)
	}
	b.WriteString(exit(4))

	return Benchmark{
		Name:         "arithmetic_sequential",
		Description:  "20 independent ADDs - measures ALU throughput",
		Source:       b.String(),
		ExpectedExit: 4,
	}
}

func dependencyChain() Benchmark {
	var b strings.Builder
	b.WriteString("_start:\n\tldi r3, 0\n\tldi r2, 1\n")
	for i := 0; i < 20; i++ {
		b.WriteString("\tadd r3, r3, r2\n")
	}
	b.WriteString(exitWith("r3"))

	return Benchmark{
		Name:         "dependency_chain",
		Description:  "20 dependent ADDs (r3 = r3 + 1) - measures forwarding latency",
		Source:       b.String(),
		ExpectedExit: 20,
	}
}

func memorySequential() Benchmark {
	var b strings.Builder
	b.WriteString("_start:\n\tldi r2, buffer\n\tldi r5, 7\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "\tst r5, [r2+%d]\n", 8*i)
		fmt.Fprintf(&b, "\tld r3, [r2+%d]\n", 8*i)
	}
	b.WriteString(exitWith("r3"))
	b.WriteString("\t.align 64\nbuffer:\n\t.space 80\n")

	return Benchmark{
		Name:         "memory_sequential",
		Description:  "10 store/load pairs to sequential addresses - measures memory latency",
		Source:       b.String(),
		ExpectedExit: 7,
	}
}

func functionCalls() Benchmark {
	var b strings.Builder
	b.WriteString("_start:\n\tldi r3, 0\n\tldi r2, 1\n")
	for i := 0; i < 5; i++ {
		b.WriteString("\tbl bump\n")
	}
	b.WriteString(exitWith("r3"))
	b.WriteString("bump:\n\tadd r3, r3, r2\n\tret\n")

	return Benchmark{
		Name:         "function_calls",
		Description:  "5 function calls (BL + RET pairs) - measures call overhead",
		Source:       b.String(),
		ExpectedExit: 5,
	}
}

func branchTaken() Benchmark {
	var b strings.Builder
	b.WriteString("_start:\n\tldi r3, 0\n\tldi r2, 1\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "\tbr skip%d\n\tadd r3, r3, r2\nskip%d:\n", i, i)
	}
	b.WriteString(exitWith("r3"))

	return Benchmark{
		Name:         "branch_taken",
		Description:  "5 unconditional forward branches - measures branch overhead",
		Source:       b.String(),
		ExpectedExit: 0,
	}
}

const mixedSource = `
_start:
	ldi r2, data
	ldi r3, 0
	ldi r4, 3
	st r4, [r2+0]
	ld r5, [r2+0]
	add r3, r3, r5
	bl double
	st r3, [r2+8]
	ld r6, [r2+8]
	add r3, r6, r4
	mov r1, r3
	ldi r0, 0
	syscall
double:
	add r3, r3, r3
	ret
	.align 8
data:
	.dword 0, 0
`

func mixedOperations() Benchmark {
	return Benchmark{
		Name:         "mixed_operations",
		Description:  "Mix of ADD, ST/LD and BL - realistic workload characteristics",
		Source:       mixedSource,
		ExpectedExit: 9,
	}
}

const loopSource = `
_start:
	ldi r3, 0
	ldi r2, 1
	ldi r4, 10
loop:
	add r3, r3, r2
	bne r3, r4, loop
	mov r1, r3
	ldi r0, 0
	syscall
`

func loopCountdown() Benchmark {
	return Benchmark{
		Name:         "loop_simulation",
		Description:  "10-iteration counted loop - exercises the branch predictor",
		Source:       loopSource,
		ExpectedExit: 10,
	}
}

const macSource = `
_start:
	ldi r2, matrix
	ld r3, [r2+0]
	ld r4, [r2+8]
	ld r5, [r2+16]
	ld r6, [r2+24]
	mul r7, r3, r5
	mul r8, r4, r6
	add r9, r7, r8
	st r9, [r2+32]
	mov r1, r9
	ldi r0, 0
	syscall
	.align 8
matrix:
	.dword 1, 2, 3, 4, 0
`

func multiplyAccumulate() Benchmark {
	return Benchmark{
		Name:         "matrix_operations",
		Description:  "Dot-product load/multiply/store pattern - tests multi-cycle execution",
		Source:       macSource,
		ExpectedExit: 11,
	}
}

// parallelCounter spawns n-1 workers. Every core atomically increments a
// shared counter and meets at a barrier; core 0 then exits with the count.
func parallelCounter(n int) Benchmark {
	var b strings.Builder
	b.WriteString("_start:\n")
	for i := 1; i < n; i++ {
		b.WriteString("\tspawn r5, worker\n")
	}
	fmt.Fprintf(&b, `worker:
	ldi r2, counter
	ldi r3, 1
	amoadd.i64 r4, [r2+0], r3
	ldi r6, %d
	barrier r6
	coreid r7
	ldi r8, 0
	bne r7, r8, done
	ld r1, [r2+0]
	ldi r0, 0
	syscall
done:
	halt
	.align 64
counter:
	.dword 0
`, (1<<n)-1)

	return Benchmark{
		Name:         fmt.Sprintf("parallel_counter_%d", n),
		Description:  fmt.Sprintf("%d cores increment a shared counter and meet at a barrier", n),
		Source:       b.String(),
		Cores:        n,
		ExpectedExit: int64(n),
	}
}

const spawnJoinSource = `
_start:
	spawn r5, child
	join r5
	ldi r2, result
	ld r1, [r2+0]
	ldi r0, 0
	syscall
child:
	ldi r2, result
	ldi r3, 6
	ldi r4, 7
	mul r3, r3, r4
	st r3, [r2+0]
	halt
	.align 64
result:
	.dword 0
`

func spawnJoin() Benchmark {
	return Benchmark{
		Name:         "spawn_join",
		Description:  "Core 0 spawns a child and joins it - measures fork/join overhead",
		Source:       spawnJoinSource,
		Cores:        2,
		ExpectedExit: 42,
	}
}
