package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kestrelkv/dupbtree/btree"
	"github.com/kestrelkv/dupbtree/common/benchmark"
)

func main() {
	quick := flag.Bool("quick", false, "Run quick benchmarks (shorter duration)")
	workload := flag.String("workload", "all", "Workload name to run (all, write-heavy-uniform, read-heavy-zipfian, balanced-uniform, write-only-sequential; quick-* names with -quick)")
	duration := flag.Duration("duration", 30*time.Second, "Duration for each benchmark (overrides the workloads' own durations only when set)")
	mode := flag.String("mode", "compare", "compare (sweep fanouts) or single (one layout)")
	maxChildren := flag.Int("max-children", 64, "M, used only in -mode=single")
	maxLeafEntries := flag.Int("max-leaf-entries", 64, "L, used only in -mode=single")
	flag.Parse()

	fmt.Println("Duplicate-Key B+ Tree Benchmark Suite")
	fmt.Println("======================================")
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Mode: %s\n\n", *mode)

	var configs []benchmark.Config
	if *quick {
		configs = benchmark.QuickWorkloads()
	} else {
		configs = benchmark.StandardWorkloads()
	}

	if flag.Lookup("duration").Value.String() != flag.Lookup("duration").DefValue {
		for i := range configs {
			configs[i].Duration = *duration
		}
	}

	if *workload != "all" {
		filtered := make([]benchmark.Config, 0)
		for _, config := range configs {
			if config.Name == *workload {
				filtered = append(filtered, config)
			}
		}
		if len(filtered) == 0 {
			fmt.Printf("Unknown workload: %s\n", *workload)
			os.Exit(1)
		}
		configs = filtered
	}

	switch *mode {
	case "single":
		runSingle(configs, *maxChildren, *maxLeafEntries)
	case "compare":
		runComparison(configs)
	default:
		fmt.Printf("Unknown mode: %s (must be single or compare)\n", *mode)
		os.Exit(1)
	}
}

// runSingle runs every workload sequentially, each against a freshly
// opened index at the requested fanout.
func runSingle(configs []benchmark.Config, maxChildren, maxLeafEntries int) {
	fmt.Printf("=== Single layout: M=%d, L=%d ===\n\n", maxChildren, maxLeafEntries)

	dir, err := os.MkdirTemp("", "dupbtree-bench-*")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	results := make([]*benchmark.Result, 0, len(configs))

	for _, config := range configs {
		fmt.Printf("\n=== Running: %s ===\n", config.Name)

		cfg := btree.DefaultConfig(dir+"/tree.db", dir+"/data.db", config.KeySize, config.ValueSize)
		cfg.MaxChildren = maxChildren
		cfg.MaxLeafEntries = maxLeafEntries

		idx, err := btree.Open(cfg)
		if err != nil {
			fmt.Printf("Failed to open index: %v\n", err)
			continue
		}

		bench := benchmark.NewBenchmark(idx, config)
		result, err := bench.Run()
		idx.Close()
		os.Remove(cfg.TreePath)
		os.Remove(cfg.DataPath)
		os.Remove(cfg.TreePath + ".free")
		os.Remove(cfg.DataPath + ".free")
		if err != nil {
			fmt.Printf("Benchmark failed: %v\n", err)
			continue
		}

		results = append(results, result)
		printResult(result)
	}

	printSummaryTable(results)
}

// runComparison sweeps the standard fanout variants across every
// configured workload.
func runComparison(configs []benchmark.Config) {
	fmt.Println("=== Comparing B+ tree fanouts ===")

	suite := benchmark.NewComparisonSuite()
	suite.SetWorkloads(configs)

	results, err := suite.RunComparison()
	if err != nil {
		fmt.Printf("Comparison failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("COMPARISON RESULTS")
	fmt.Println(strings.Repeat("=", 80))
	suite.PrintComparisonTable(results)
}

func printResult(r *benchmark.Result) {
	fmt.Printf("\n--- Results ---\n")
	fmt.Printf("Throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Printf("Total Ops: %d (writes: %d, reads: %d)\n",
		r.TotalOps, r.WriteOps, r.ReadOps)

	if r.WriteOps > 0 {
		fmt.Printf("\nWrite Latency:\n")
		fmt.Printf("  Min:  %8s\n", r.WriteLatency.Min)
		fmt.Printf("  Mean: %8s\n", r.WriteLatency.Mean)
		fmt.Printf("  P50:  %8s\n", r.WriteLatency.P50)
		fmt.Printf("  P95:  %8s\n", r.WriteLatency.P95)
		fmt.Printf("  P99:  %8s\n", r.WriteLatency.P99)
		fmt.Printf("  P999: %8s\n", r.WriteLatency.P999)
		fmt.Printf("  Max:  %8s\n", r.WriteLatency.Max)
	}

	if r.ReadOps > 0 {
		fmt.Printf("\nRead Latency:\n")
		fmt.Printf("  Min:  %8s\n", r.ReadLatency.Min)
		fmt.Printf("  Mean: %8s\n", r.ReadLatency.Mean)
		fmt.Printf("  P50:  %8s\n", r.ReadLatency.P50)
		fmt.Printf("  P95:  %8s\n", r.ReadLatency.P95)
		fmt.Printf("  P99:  %8s\n", r.ReadLatency.P99)
		fmt.Printf("  P999: %8s\n", r.ReadLatency.P999)
		fmt.Printf("  Max:  %8s\n", r.ReadLatency.Max)
	}

	fmt.Printf("\nWrite Amplification: %.2fx\n", r.WriteAmplification)
	fmt.Printf("Disk Usage: %.1f MB\n", r.TotalDiskMB)
	fmt.Printf("Cache: %d hits, %d misses\n", r.IndexStats.CacheHits, r.IndexStats.CacheMisses)
}

func printSummaryTable(results []*benchmark.Result) {
	if len(results) == 0 {
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf("\n%-25s %12s %12s %12s %12s\n",
		"Workload", "Throughput", "Write P99", "Read P99", "Write Amp")
	fmt.Println(strings.Repeat("-", 80))

	for _, r := range results {
		writeP99 := "N/A"
		if r.WriteOps > 0 {
			writeP99 = r.WriteLatency.P99.String()
		}

		readP99 := "N/A"
		if r.ReadOps > 0 {
			readP99 = r.ReadLatency.P99.String()
		}

		fmt.Printf("%-25s %10.0f/s %12s %12s %11.2fx\n",
			r.Config.Name,
			r.OpsPerSec,
			writeP99,
			readP99,
			r.WriteAmplification)
	}
}
