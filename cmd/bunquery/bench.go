package main

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunquery/client"
)

type benchConfig struct {
	Collection  string
	Concurrency int
	TotalOps    int
	Limit       int32
}

func newBenchCmd() *cobra.Command {
	var bc benchConfig

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure query latency against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bc.Concurrency < 1 || bc.TotalOps < bc.Concurrency {
				return fmt.Errorf("need at least one op per worker, got -c %d -n %d", bc.Concurrency, bc.TotalOps)
			}
			fmt.Printf("Starting bunquery bench\n")
			fmt.Printf("   Server: %s\n   Workers: %d\n   Total Ops: %d\n   Collection: %s\n",
				cfg.Transport.Addr, bc.Concurrency, bc.TotalOps, bc.Collection)
			runBenchmark(cmd, newClient(), bc)
			return nil
		},
	}
	cmd.Flags().StringVar(&bc.Collection, "collection", "items", "Collection ID")
	cmd.Flags().IntVarP(&bc.Concurrency, "concurrency", "c", 10, "Number of concurrent workers")
	cmd.Flags().IntVarP(&bc.TotalOps, "ops", "n", 1000, "Total number of queries")
	cmd.Flags().Int32Var(&bc.Limit, "limit", 20, "Documents per query")
	return cmd
}

func runBenchmark(cmd *cobra.Command, c *client.Client, bc benchConfig) {
	ctx := cmd.Context()
	start := time.Now()

	var wg sync.WaitGroup
	opsPerWorker := bc.TotalOps / bc.Concurrency

	latencies := make(chan time.Duration, bc.TotalOps)
	errs := make(chan error, bc.TotalOps)
	params := client.NewQueryParams(bc.Collection).WithLimit(bc.Limit)

	for i := 0; i < bc.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerWorker; j++ {
				opStart := time.Now()
				if _, err := c.QueryDoc(ctx, params); err != nil {
					errs <- err
				}
				latencies <- time.Since(opStart)
			}
		}()
	}

	wg.Wait()
	close(latencies)
	close(errs)

	duration := time.Since(start)

	var totalLatency time.Duration
	var latList []float64
	for l := range latencies {
		totalLatency += l
		latList = append(latList, float64(l.Microseconds())/1000.0) // ms
	}

	errCount := 0
	for err := range errs {
		errCount++
		if errCount <= 5 {
			fmt.Printf("Error Sample: %v\n", err)
		}
	}

	opsCount := len(latList)
	sort.Float64s(latList)
	p50, p99 := 0.0, 0.0
	if opsCount > 0 {
		p50 = latList[int(float64(opsCount)*0.50)]
		p99 = latList[int(float64(opsCount)*0.99)]
	}

	fmt.Println("\nResults:")
	fmt.Printf("   Duration:    %v\n", duration)
	fmt.Printf("   Throughput:  %.2f queries/sec\n", float64(opsCount)/duration.Seconds())
	fmt.Printf("   Avg Latency: %.2f ms\n", float64(totalLatency.Microseconds())/1000.0/float64(opsCount))
	fmt.Printf("   P50 Latency: %.2f ms\n", p50)
	fmt.Printf("   P99 Latency: %.2f ms\n", p99)
	fmt.Printf("   Errors:      %d (%.2f%%)\n", errCount, float64(errCount)/float64(opsCount)*100)
}
