package benchmark

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kestrelkv/dupbtree/btree"
)

// LayoutVariant names one choice of M (MaxChildren) and L
// (MaxLeafEntries) to benchmark. Where the teacher's comparison suite
// pits one storage engine against another, this one pits one page
// fanout against another over the same single engine — the parameter
// a disk-resident B+ tree actually exposes to a caller tuning it.
type LayoutVariant struct {
	Name           string
	MaxChildren    int
	MaxLeafEntries int
}

// StandardLayouts spans narrow, default, and wide fanout.
func StandardLayouts() []LayoutVariant {
	return []LayoutVariant{
		{Name: "narrow-fanout", MaxChildren: 8, MaxLeafEntries: 8},
		{Name: "default-fanout", MaxChildren: 64, MaxLeafEntries: 64},
		{Name: "wide-fanout", MaxChildren: 256, MaxLeafEntries: 256},
	}
}

// ComparisonSuite runs a set of workloads against a set of layouts.
type ComparisonSuite struct {
	configs []Config
	layouts []LayoutVariant
}

func NewComparisonSuite() *ComparisonSuite {
	return &ComparisonSuite{
		configs: StandardWorkloads(),
		layouts: StandardLayouts(),
	}
}

// SetWorkloads sets custom workload configurations
func (cs *ComparisonSuite) SetWorkloads(configs []Config) {
	cs.configs = configs
}

// SetLayouts sets custom layout variants
func (cs *ComparisonSuite) SetLayouts(layouts []LayoutVariant) {
	cs.layouts = layouts
}

// StandardWorkloads returns common benchmark scenarios
func StandardWorkloads() []Config {
	return []Config{
		{
			Name:            "write-heavy-uniform",
			WorkloadType:    WorkloadWriteHeavy,
			KeyDistribution: DistUniform,
			NumKeys:         200000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        30 * time.Second,
			PreloadKeys:     50000,
			Seed:            12345,
		},
		{
			Name:            "read-heavy-zipfian",
			WorkloadType:    WorkloadReadHeavy,
			KeyDistribution: DistZipfian,
			NumKeys:         200000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        30 * time.Second,
			PreloadKeys:     100000,
			Seed:            12345,
		},
		{
			Name:            "balanced-uniform",
			WorkloadType:    WorkloadBalanced,
			KeyDistribution: DistUniform,
			NumKeys:         200000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        30 * time.Second,
			PreloadKeys:     50000,
			Seed:            12345,
		},
		{
			Name:            "write-only-sequential",
			WorkloadType:    WorkloadWriteOnly,
			KeyDistribution: DistSequential,
			NumKeys:         200000,
			KeySize:         16,
			ValueSize:       1000,
			Duration:        15 * time.Second,
			PreloadKeys:     0,
			Seed:            12345,
		},
	}
}

// QuickWorkloads returns faster workloads for local testing.
func QuickWorkloads() []Config {
	return []Config{
		{
			Name:            "quick-write-heavy",
			WorkloadType:    WorkloadWriteHeavy,
			KeyDistribution: DistUniform,
			NumKeys:         20000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        5 * time.Second,
			PreloadKeys:     2000,
			Seed:            12345,
		},
		{
			Name:            "quick-balanced",
			WorkloadType:    WorkloadBalanced,
			KeyDistribution: DistUniform,
			NumKeys:         20000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        5 * time.Second,
			PreloadKeys:     4000,
			Seed:            12345,
		},
		{
			Name:            "quick-read-heavy",
			WorkloadType:    WorkloadReadHeavy,
			KeyDistribution: DistZipfian,
			NumKeys:         20000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        5 * time.Second,
			PreloadKeys:     10000,
			Seed:            12345,
		},
	}
}

// RunComparison runs every configured workload under every layout
// variant, opening a fresh index in its own temp directory for each
// layout-and-workload pair, and returns results keyed by layout name.
func (cs *ComparisonSuite) RunComparison() (map[string][]*Result, error) {
	results := make(map[string][]*Result)

	for _, layout := range cs.layouts {
		fmt.Printf("\n=== Benchmarking layout: %s (M=%d, L=%d) ===\n",
			layout.Name, layout.MaxChildren, layout.MaxLeafEntries)

		layoutResults := make([]*Result, 0, len(cs.configs))

		for _, config := range cs.configs {
			fmt.Printf("\nRunning: %s\n", config.Name)

			result, err := cs.runOne(layout, config)
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				continue
			}

			layoutResults = append(layoutResults, result)
			cs.printResult(result)
		}

		results[layout.Name] = layoutResults
	}

	return results, nil
}

func (cs *ComparisonSuite) runOne(layout LayoutVariant, config Config) (*Result, error) {
	dir, err := os.MkdirTemp("", "dupbtree-bench-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	cfg := btree.DefaultConfig(dir+"/tree.db", dir+"/data.db", config.KeySize, config.ValueSize)
	cfg.MaxChildren = layout.MaxChildren
	cfg.MaxLeafEntries = layout.MaxLeafEntries

	idx, err := btree.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	bench := NewBenchmark(idx, config)
	return bench.Run()
}

func (cs *ComparisonSuite) printResult(r *Result) {
	fmt.Printf("\nResults for: %s\n", r.Config.Name)
	fmt.Printf("  Throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Printf("  Total Ops: %d (writes: %d, reads: %d)\n",
		r.TotalOps, r.WriteOps, r.ReadOps)

	if r.WriteOps > 0 {
		fmt.Printf("  Write Latency (μs):\n")
		fmt.Printf("    p50:  %6d\n", r.WriteLatency.P50.Microseconds())
		fmt.Printf("    p95:  %6d\n", r.WriteLatency.P95.Microseconds())
		fmt.Printf("    p99:  %6d\n", r.WriteLatency.P99.Microseconds())
		fmt.Printf("    p999: %6d\n", r.WriteLatency.P999.Microseconds())
	}

	if r.ReadOps > 0 {
		fmt.Printf("  Read Latency (μs):\n")
		fmt.Printf("    p50:  %6d\n", r.ReadLatency.P50.Microseconds())
		fmt.Printf("    p95:  %6d\n", r.ReadLatency.P95.Microseconds())
		fmt.Printf("    p99:  %6d\n", r.ReadLatency.P99.Microseconds())
		fmt.Printf("    p999: %6d\n", r.ReadLatency.P999.Microseconds())
	}

	fmt.Printf("  Write Amplification: %.2fx\n", r.WriteAmplification)
	fmt.Printf("  Disk Usage: %.1f MB\n", r.TotalDiskMB)
	fmt.Printf("  Cache: %d hits, %d misses\n", r.IndexStats.CacheHits, r.IndexStats.CacheMisses)
}

// PrintComparisonTable prints a layout-by-layout comparison table.
func (cs *ComparisonSuite) PrintComparisonTable(results map[string][]*Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "\n=== THROUGHPUT COMPARISON (ops/sec) ===")
	fmt.Fprintf(w, "Workload\t")
	for _, layout := range cs.layouts {
		fmt.Fprintf(w, "%s\t", layout.Name)
	}
	fmt.Fprintln(w)

	for i, config := range cs.configs {
		fmt.Fprintf(w, "%s\t", config.Name)
		for _, layout := range cs.layouts {
			rs := results[layout.Name]
			if i < len(rs) {
				fmt.Fprintf(w, "%.0f\t", rs[i].OpsPerSec)
			} else {
				fmt.Fprintf(w, "N/A\t")
			}
		}
		fmt.Fprintln(w)
	}
	w.Flush()

	fmt.Fprintln(w, "\n=== WRITE P99 LATENCY COMPARISON (μs) ===")
	fmt.Fprintf(w, "Workload\t")
	for _, layout := range cs.layouts {
		fmt.Fprintf(w, "%s\t", layout.Name)
	}
	fmt.Fprintln(w)

	for i, config := range cs.configs {
		fmt.Fprintf(w, "%s\t", config.Name)
		for _, layout := range cs.layouts {
			rs := results[layout.Name]
			if i < len(rs) && rs[i].WriteOps > 0 {
				fmt.Fprintf(w, "%d\t", rs[i].WriteLatency.P99.Microseconds())
			} else {
				fmt.Fprintf(w, "N/A\t")
			}
		}
		fmt.Fprintln(w)
	}
	w.Flush()

	fmt.Fprintln(w, "\n=== WRITE AMPLIFICATION COMPARISON ===")
	fmt.Fprintf(w, "Workload\t")
	for _, layout := range cs.layouts {
		fmt.Fprintf(w, "%s\t", layout.Name)
	}
	fmt.Fprintln(w)

	for i, config := range cs.configs {
		fmt.Fprintf(w, "%s\t", config.Name)
		for _, layout := range cs.layouts {
			rs := results[layout.Name]
			if i < len(rs) {
				fmt.Fprintf(w, "%.2fx\t", rs[i].WriteAmplification)
			} else {
				fmt.Fprintf(w, "N/A\t")
			}
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}
