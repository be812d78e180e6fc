package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"distkv/cmd/util"
	"distkv/rpc/common"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dKV servers",
		Long:    "",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfRowPrefix        = "__test"
	perfCol              = "value"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfRowSpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	KeyValueCommands.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	KeyValueCommands.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	KeyValueCommands.PersistentFlags().Int(key, 1000, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "rows"
	KeyValueCommands.PersistentFlags().Int(key, 100, util.WrapString("How many different rows to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfRowSpread = viper.GetInt("rows")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dKV servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	results := make(map[string]testing.BenchmarkResult)

	putResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("put") {
			return
		}

		getRow, iter := getRows("put")

		b.Cleanup(func() {
			iter(func(r string) {
				if err := rpcClient.Delete(r, perfCol, ""); err != nil {
					log.Printf("(put) - error deleting row: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := rpcClient.Put(getRow(counter), perfCol, []byte("test"), ""); err != nil {
					log.Printf("(put) - error writing row: %v\n", err)
				}
				counter++
			}
		})
	})

	results["put"] = putResult
	printResult("put", putResult)

	putLargeValueResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("put-large") {
			return
		}

		largeValue := make([]byte, perfLargeValueSizeKB*1024)
		getRow, iter := getRows("put-large")

		b.Cleanup(func() {
			iter(func(r string) {
				if err := rpcClient.Delete(r, perfCol, ""); err != nil {
					log.Printf("(put-large) - error deleting row: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := rpcClient.Put(getRow(counter), perfCol, largeValue, ""); err != nil {
					log.Printf("(put-large) - error writing row: %v", err)
				}
				counter++
			}
		})
	})

	results["put-large"] = putLargeValueResult
	printResult("put-large", putLargeValueResult)

	getResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}

		getRow, iter := getRows("get")

		iter(func(r string) {
			if err := rpcClient.Put(r, perfCol, []byte("test"), ""); err != nil {
				log.Printf("(get) - error writing row: %v\n", err)
			}
		})

		b.Cleanup(func() {
			iter(func(r string) {
				if err := rpcClient.Delete(r, perfCol, ""); err != nil {
					log.Printf("(get) - error deleting row: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, _, err := rpcClient.Get(getRow(counter), perfCol, ""); err != nil {
					log.Printf("(get) - error reading row: %v\n", err)
				}
				counter++
			}
		})
	})

	results["get"] = getResult
	printResult("get", getResult)

	deleteResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("delete") {
			return
		}

		getRow, iter := getRows("delete")

		iter(func(r string) {
			if err := rpcClient.Put(r, perfCol, []byte("test"), ""); err != nil {
				log.Printf("(delete) - error writing row: %v\n", err)
			}
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := rpcClient.Delete(getRow(counter), perfCol, ""); err != nil {
					log.Printf("(delete) - error deleting row: %v\n", err)
				}
				counter++
			}
		})
	})

	results["delete"] = deleteResult
	printResult("delete", deleteResult)

	mixedUsageResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		getRow, iter := getRows("mixed")

		iter(func(r string) {
			if err := rpcClient.Put(r, perfCol, []byte("test"), ""); err != nil {
				log.Printf("(mixed) - error writing row: %v\n", err)
			}
		})

		b.Cleanup(func() {
			iter(func(r string) {
				if err := rpcClient.Delete(r, perfCol, ""); err != nil {
					log.Printf("(mixed) - error deleting row: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				row := getRow(counter)
				var err error
				switch counter % 3 {
				case 0: // put
					err = rpcClient.Put(row, perfCol, []byte("test"), "")
				case 1: // get
					_, _, err = rpcClient.Get(row, perfCol, "")
				case 2: // cput
					err = rpcClient.CPut(row, perfCol, []byte("test"), []byte("test"), "")
				}

				if err != nil {
					log.Printf("(mixed) - error performing operation (%d): %v\n", counter%3, err)
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedUsageResult
	printResult("mixed", mixedUsageResult)

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
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
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getRows builds an array of test rows and functions to work with them.
func getRows(prefix string) (func(int) string, func(func(string))) {
	rows := make([]string, perfRowSpread)
	for i := 0; i < perfRowSpread; i++ {
		rows[i] = fmt.Sprintf("%s-%s-%d", perfRowPrefix, prefix, i)
	}

	getRow := func(i int) string {
		return rows[i%perfRowSpread]
	}

	iterateRows := func(fn func(string)) {
		for _, row := range rows {
			fn(row)
		}
	}

	return getRow, iterateRows
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Clusters", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Rows Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	var clusterStrs []string
	for _, cluster := range config.Clusters {
		clusterStrs = append(clusterStrs, strings.Join(cluster, ","))
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
			nsPerOp = 0
			opsPerSec = 0
		} else {
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
			strings.Join(clusterStrs, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfRowSpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
