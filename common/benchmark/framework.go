package benchmark

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/kestrelkv/dupbtree/btree"
	"github.com/kestrelkv/dupbtree/common"
)

// WorkloadType defines the access pattern
type WorkloadType string

const (
	WorkloadWriteHeavy WorkloadType = "write-heavy" // 95% writes
	WorkloadReadHeavy  WorkloadType = "read-heavy"  // 95% reads
	WorkloadBalanced   WorkloadType = "balanced"    // 50/50
	WorkloadReadOnly   WorkloadType = "read-only"   // 100% reads
	WorkloadWriteOnly  WorkloadType = "write-only"  // 100% writes
)

// Config defines a benchmark scenario. Unlike the engine-comparison
// harness this is descended from, there is no Concurrency knob: the
// index under test assumes a single caller, so a benchmark always runs
// its workload in the calling goroutine.
type Config struct {
	Name string

	WorkloadType    WorkloadType
	KeyDistribution KeyDistribution

	NumKeys   int // Total unique keys in dataset
	KeySize   int // Bytes
	ValueSize int // Bytes

	// MaxChildren and MaxLeafEntries name an M and L for the scenario.
	// Benchmark and ComparisonSuite do not read them: ComparisonSuite
	// takes M and L from its LayoutVariants, and cmd/benchmark's single
	// mode from its flags.
	MaxChildren    int
	MaxLeafEntries int

	Duration time.Duration // How long to run

	PreloadKeys int // Keys to load before benchmark starts

	Seed int64
}

type Result struct {
	Config Config

	// Throughput
	TotalOps  int64
	WriteOps  int64
	ReadOps   int64
	Duration  time.Duration
	OpsPerSec float64

	// Latency distributions (time.Duration values)
	WriteLatency LatencyStats
	ReadLatency  LatencyStats

	// WriteAmplification is disk-byte growth over the run divided by
	// the logical bytes the benchmark asked to write.
	WriteAmplification float64

	TotalDiskMB float64

	IndexStats common.Stats
}

// Benchmark drives a single open *btree.Index through a workload.
//
// Grounded on the teacher's Benchmark: preload, warm up, measure. The
// teacher spins Config.Concurrency goroutines over a stop channel; this
// one runs the workload inline, since spec.md §5 rules out concurrent
// access to a single Index.
type Benchmark struct {
	idx    *btree.Index
	config Config

	writeLatencies *LatencyHistogram
	readLatencies  *LatencyHistogram

	writeCount int64
	readCount  int64
	errorCount int64

	keyGen *KeyGenerator
}

func NewBenchmark(idx *btree.Index, config Config) *Benchmark {
	return &Benchmark{
		idx:            idx,
		config:         config,
		writeLatencies: NewLatencyHistogram(),
		readLatencies:  NewLatencyHistogram(),
		keyGen:         NewKeyGenerator(config.NumKeys, config.KeySize, config.KeyDistribution, config.Seed),
	}
}

// Run executes the benchmark.
func (b *Benchmark) Run() (*Result, error) {
	if b.config.PreloadKeys > 0 {
		fmt.Printf("Preloading %d keys...\n", b.config.PreloadKeys)
		if err := b.preload(); err != nil {
			return nil, err
		}
		fmt.Println("Preload complete")
	}

	fmt.Println("Warming up...")
	b.runWorkload(2 * time.Second)

	b.writeLatencies = NewLatencyHistogram()
	b.readLatencies = NewLatencyHistogram()
	b.writeCount, b.readCount, b.errorCount = 0, 0, 0

	fmt.Printf("Running benchmark for %v...\n", b.config.Duration)
	startStats := b.idx.Stats()
	startTime := time.Now()

	b.runWorkload(b.config.Duration)

	endTime := time.Now()
	endStats := b.idx.Stats()
	duration := endTime.Sub(startTime)

	return b.calculateResults(duration, startStats, endStats), nil
}

// preload fills the index with initial data before the timed portion.
func (b *Benchmark) preload() error {
	value := make([]byte, b.config.ValueSize)
	rand.Read(value)

	for i := 0; i < b.config.PreloadKeys; i++ {
		key := b.keyGen.GenerateSequential(i)
		if err := b.idx.Insert(key, value); err != nil {
			return err
		}

		if i > 0 && i%10000 == 0 {
			fmt.Printf("  Loaded %d keys\n", i)
		}
	}
	return nil
}

// runWorkload executes operations back to back, in this goroutine,
// until duration elapses. A deadline check replaces the teacher's
// worker-pool-plus-stop-channel: nothing here ever touches the index
// from a second goroutine.
func (b *Benchmark) runWorkload(duration time.Duration) {
	value := make([]byte, b.config.ValueSize)
	rand.Read(value)

	deadline := time.Now().Add(duration)
	var seq int64
	for time.Now().Before(deadline) {
		seq++
		if b.shouldWrite(seq) {
			b.doWrite(value)
		} else {
			b.doRead()
		}
	}
}

// shouldWrite determines if this operation should be a write. seq
// drives the decision deterministically instead of a per-call RNG,
// since a sequential single-threaded loop has no races to smear the
// mix across workers.
func (b *Benchmark) shouldWrite(seq int64) bool {
	frac := float64(seq%10000) / 10000.0
	switch b.config.WorkloadType {
	case WorkloadWriteOnly:
		return true
	case WorkloadReadOnly:
		return false
	case WorkloadWriteHeavy:
		return frac < 0.95
	case WorkloadReadHeavy:
		return frac < 0.05
	case WorkloadBalanced:
		return frac < 0.50
	default:
		return frac < 0.50
	}
}

func (b *Benchmark) doWrite(value []byte) {
	key := b.keyGen.NextKey()

	start := time.Now()
	err := b.idx.Insert(key, value)
	latency := time.Since(start)

	if err != nil {
		b.errorCount++
		return
	}

	b.writeLatencies.Record(latency)
	b.writeCount++
}

func (b *Benchmark) doRead() {
	key := b.keyGen.NextKey()

	start := time.Now()
	_, err := b.idx.Find(key)
	latency := time.Since(start)

	if err != nil {
		b.errorCount++
		return
	}

	b.readLatencies.Record(latency)
	b.readCount++
}

func (b *Benchmark) calculateResults(duration time.Duration, startStats, endStats common.Stats) *Result {
	totalOps := b.writeCount + b.readCount

	result := &Result{
		Config:    b.config,
		TotalOps:  totalOps,
		WriteOps:  b.writeCount,
		ReadOps:   b.readCount,
		Duration:  duration,
		OpsPerSec: float64(totalOps) / duration.Seconds(),

		WriteLatency: b.writeLatencies.Stats(),
		ReadLatency:  b.readLatencies.Stats(),

		TotalDiskMB: float64(endStats.TotalDiskSize) / (1024 * 1024),
		IndexStats:  endStats,
	}

	diskGrowth := endStats.TotalDiskSize - startStats.TotalDiskSize
	logicalBytes := b.writeCount * int64(b.config.KeySize+b.config.ValueSize)
	if logicalBytes > 0 {
		result.WriteAmplification = float64(diskGrowth) / float64(logicalBytes)
	}

	return result
}
