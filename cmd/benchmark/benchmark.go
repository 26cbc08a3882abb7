package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	prerender "github.com/krisalay/prerender-cache"
	"github.com/krisalay/prerender-cache/api"
	"github.com/krisalay/prerender-cache/engine"
	"github.com/krisalay/prerender-cache/fakeworker"
	"github.com/krisalay/prerender-cache/postprocess"
	"github.com/krisalay/prerender-cache/types"
	"github.com/krisalay/prerender-cache/worker"
)

// ================= STAMPEDE BENCHMARK =================
//
// Simulates a crawler burst against a cold cache with a slow browser: many
// goroutines hammer a small set of routes while every render takes tens of
// milliseconds. The interesting number is renders vs requests.

func main() {
	ctx := context.Background()

	const (
		routes       = 50
		goroutines   = 200
		opsPerG      = 500
		ttl          = 200 * time.Millisecond
		launchDelay  = 300 * time.Millisecond
		navigateTime = 20 * time.Millisecond
		readyTime    = 10 * time.Millisecond
	)

	fmt.Println("\n================ PRERENDER STAMPEDE BENCHMARK =================")

	fmt.Println("CONFIG")
	fmt.Println("---------------------------------")
	fmt.Println("Routes        :", routes)
	fmt.Println("Goroutines    :", goroutines)
	fmt.Println("Ops/Goroutine :", opsPerG)
	fmt.Println("TTL           :", ttl)
	fmt.Println("Render time   :", navigateTime+readyTime)
	fmt.Println("---------------------------------")

	// ---------------- Render Worker ----------------
	launcher := &fakeworker.Launcher{
		LaunchDelay: launchDelay,
		Page: fakeworker.Page{
			NavigateDelay: navigateTime,
			ReadyDelay:    readyTime,
			Render: func(url string) string {
				return "<html>\n  <body>\n    <h1>" + url + "</h1>\n  </body>\n</html>"
			},
		},
	}

	stats := &types.Counters{}

	workers := worker.NewManager(launcher, worker.Options{
		RecycleInterval: time.Second,
		Metrics:         stats,
	})

	resolve, err := engine.UpstreamResolver("https://origin.example")
	if err != nil {
		panic(err)
	}

	pipeline := engine.NewPipeline(workers, resolve, engine.Config{
		NavigationTimeout: time.Second,
		ReadinessTimeout:  time.Second,
		PostProcess:       postprocess.NewMinifier(),
	}, nil)

	coord := prerender.NewCoordinator(pipeline, prerender.Options{
		TTL:     ttl,
		Workers: workers,
		Metrics: stats,
	})

	// ---------------- Load Test ----------------
	fmt.Println("Running stampede...")

	start := time.Now()

	var served, failed, bytes int64
	results := make(chan api.Result, 1024)
	done := make(chan struct{})
	go func() {
		for res := range results {
			served++
			bytes += int64(len(res.Content))
		}
		close(done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	failures := make(chan struct{}, goroutines*opsPerG)
	for i := 0; i < goroutines; i++ {
		id := i
		g.Go(func() error {
			for j := 0; j < opsPerG; j++ {
				key := fmt.Sprintf("/route/%d", (id+j)%routes)
				res, err := coord.Handle(gctx, key, types.RequestContext{UserAgent: "Googlebot"})
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					failures <- struct{}{}
					continue
				}
				results <- res
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Println("benchmark aborted:", err)
	}
	close(results)
	<-done
	failed = int64(len(failures))

	duration := time.Since(start)
	totalOps := goroutines * opsPerG
	snap := stats.Snapshot()

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Total Requests   : %d\n", totalOps)
	fmt.Printf("Served           : %d (%s)\n", served, humanize.Bytes(uint64(bytes)))
	fmt.Printf("Failed           : %d\n", failed)
	fmt.Printf("Total Time       : %v\n", duration)
	fmt.Printf("Throughput       : %.2f req/sec\n", float64(totalOps)/duration.Seconds())
	fmt.Printf("Hits / Misses    : %d / %d\n", snap.Hits, snap.Misses)
	fmt.Printf("Coalesced Waits  : %d\n", snap.Coalesced)
	fmt.Printf("Renders          : %d (%d failed)\n", snap.Renders, snap.RenderFailures)
	fmt.Printf("Browser Launches : %d\n", snap.Launches)
	fmt.Println("=========================================")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := coord.Close(shutdownCtx); err != nil {
		fmt.Println("close:", err)
	}
	fmt.Println("SYSTEM → browser retired cleanly")
}
