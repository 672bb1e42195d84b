package pool

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/mkv/cmd/util"
	"github.com/ValentinKolb/mkv/lib/intern"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for intern pools",
		RunE:    runBench,
		PreRunE: processBenchConfig,
	}
	benchValuePrefix = "__bench"
	benchValueSize   = 64
	benchNumThreads  = 10
	benchValueSpread = 100
	benchSkip        = make([]string, 0)

	benchNames = []string{"intern-new", "intern-existing", "get", "delete", "mixed"}
)

func init() {
	key := "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. get,mixed)"))
	key = "threads"
	benchCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "value-size"
	benchCmd.Flags().String(key, "64B", util.WrapString("Size of the interned values (e.g. 64B, 4KiB)"))
	key = "values"
	benchCmd.Flags().Int(key, 100, util.WrapString("How many different values to use for the tests"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	size, err := units.RAMInBytes(viper.GetString("value-size"))
	if err != nil {
		return fmt.Errorf("invalid value size: %w", err)
	}
	if size < int64(len(benchValuePrefix))+16 {
		return fmt.Errorf("value size must be at least %d bytes", len(benchValuePrefix)+16)
	}

	benchValueSize = int(size)
	benchValueSpread = max(viper.GetInt("values"), 1)
	benchNumThreads = max(viper.GetInt("threads"), 1)
	benchSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for intern pools")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Pool: %s\n", pool.Name())
	fmt.Printf("Directory: %s\n", env.Dir().Path())
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Printf("Value Size: %s\n", units.BytesSize(float64(benchValueSize)))
	fmt.Printf("Values: %d\n", benchValueSpread)
	fmt.Println()

	fmt.Println("starting tests...")

	var unique atomic.Uint64
	benchmarks := map[string]func(b *testing.B){
		"intern-new": func(b *testing.B) {
			var (
				mu      sync.Mutex
				created []intern.Value
			)
			b.Cleanup(func() {
				for _, v := range created {
					if _, err := pool.Delete(ctx, v); err != nil {
						log.Printf("(intern-new) - error deleting value: %v\n", err)
					}
				}
			})

			b.SetParallelism(benchNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				var local []intern.Value
				for pb.Next() {
					v := benchValue("new", int(unique.Add(1)))
					if _, err := pool.Intern(ctx, v); err != nil {
						log.Printf("(intern-new) - error interning value: %v\n", err)
					}
					local = append(local, v)
				}
				mu.Lock()
				created = append(created, local...)
				mu.Unlock()
			})
		},
		"intern-existing": func(b *testing.B) {
			getValue, iter := getValues("existing")
			iter(internValue(ctx, "intern-existing"))
			b.Cleanup(func() { iter(deleteValue(ctx, "intern-existing")) })

			b.SetParallelism(benchNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if _, err := pool.Intern(ctx, getValue(counter)); err != nil {
						log.Printf("(intern-existing) - error interning value: %v\n", err)
					}
					counter++
				}
			})
		},
		"get": func(b *testing.B) {
			getValue, iter := getValues("get")
			var proxies []*intern.ValueProxy[intern.Value]
			iter(func(v intern.Value) {
				proxy, err := pool.Intern(ctx, v)
				if err != nil {
					log.Printf("(get) - error interning value: %v\n", err)
					return
				}
				proxies = append(proxies, proxy)
			})
			b.Cleanup(func() { iter(deleteValue(ctx, "get")) })
			if err := pool.Flush(ctx); err != nil {
				log.Printf("(get) - error flushing pool: %v\n", err)
			}
			if len(proxies) == 0 {
				return
			}

			b.SetParallelism(benchNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if _, _, err := proxies[counter%len(proxies)].Get(); err != nil {
						log.Printf("(get) - error reading value %v: %v\n", getValue(counter), err)
					}
					counter++
				}
			})
		},
		"delete": func(b *testing.B) {
			getValue, iter := getValues("delete")
			iter(internValue(ctx, "delete"))
			b.Cleanup(func() { iter(deleteValue(ctx, "delete")) })

			b.SetParallelism(benchNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if _, err := pool.Delete(ctx, getValue(counter)); err != nil {
						log.Printf("(delete) - error deleting value: %v\n", err)
					}
					counter++
				}
			})
		},
		"mixed": func(b *testing.B) {
			getValue, iter := getValues("mixed")
			iter(internValue(ctx, "mixed"))
			b.Cleanup(func() { iter(deleteValue(ctx, "mixed")) })

			b.SetParallelism(benchNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					v := getValue(counter)
					var err error
					switch counter % 3 {
					case 0: // intern
						_, err = pool.Intern(ctx, v)
					case 1: // get
						var proxy *intern.ValueProxy[intern.Value]
						if proxy, err = pool.Intern(ctx, v); err == nil {
							_, _, err = proxy.Get()
						}
					case 2: // delete
						_, err = pool.Delete(ctx, v)
					}
					if err != nil {
						log.Printf("(mixed) - error performing operation (%d): %v\n", counter%3, err)
					}
					counter++
				}
			})
		},
	}

	results := make(map[string]testing.BenchmarkResult, len(benchNames))
	for _, name := range benchNames {
		if shouldSkip(name) {
			results[name] = testing.BenchmarkResult{}
		} else {
			results[name] = testing.Benchmark(benchmarks[name])
		}
		printResult(name, results[name])
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// benchValue returns a string value of the configured size unique for (prefix, i)
func benchValue(prefix string, i int) intern.Value {
	s := fmt.Sprintf("%s-%s-%d-", benchValuePrefix, prefix, i)
	if pad := benchValueSize - len(s); pad > 0 {
		s += strings.Repeat("x", pad)
	}
	return intern.StringValue(s)
}

// getValues creates the test values and functions to work with them
func getValues(prefix string) (func(int) intern.Value, func(func(intern.Value))) {
	values := make([]intern.Value, benchValueSpread)
	for i := range values {
		values[i] = benchValue(prefix, i)
	}

	getValue := func(i int) intern.Value {
		return values[i%benchValueSpread]
	}
	iterateValues := func(fn func(intern.Value)) {
		for _, v := range values {
			fn(v)
		}
	}
	return getValue, iterateValues
}

func internValue(ctx context.Context, test string) func(intern.Value) {
	return func(v intern.Value) {
		if _, err := pool.Intern(ctx, v); err != nil {
			log.Printf("(%s) - error interning value: %v\n", test, err)
		}
	}
}

func deleteValue(ctx context.Context, test string) func(intern.Value) {
	return func(v intern.Value) {
		if _, err := pool.Delete(ctx, v); err != nil {
			log.Printf("(%s) - error deleting value: %v\n", test, err)
		}
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Pool", "ProxyCache", "NoSync", "AutoCommitItems", "AutoCommitElapsed",
		"Threads", "ValueSize", "Values",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range benchNames {
		result := results[test]
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			pool.Name(),
			strconv.Itoa(viper.GetInt("proxy-cache")),
			strconv.FormatBool(viper.GetBool("no-sync")),
			strconv.Itoa(viper.GetInt("auto-commit-items")),
			viper.GetDuration("auto-commit-elapsed").String(),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchValueSize),
			strconv.Itoa(benchValueSpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
