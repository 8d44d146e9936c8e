// ABOUTME: Diagnostic tool that measures clock offset against a running relay
// ABOUTME: Connects, runs repeated sync bursts and prints the estimate after each
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/client"
	"github.com/Vimlesh-Kumar/zync/internal/logging"
	"github.com/Vimlesh-Kumar/zync/internal/sync"
	"github.com/rs/zerolog/log"
)

var (
	serverAddr = flag.String("server", "localhost:8927", "Relay address")
	runs       = flag.Int("runs", 5, "Number of sync bursts")
	probes     = flag.Int("probes", sync.DefaultProbeCount, "Probes per burst")
	interval   = flag.Duration("interval", 2*time.Second, "Pause between bursts")
	debug      = flag.Bool("debug", false, "Log individual lost probes")
)

func main() {
	flag.Parse()

	if _, err := logging.Setup(logging.Options{Console: true, Debug: *debug}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := client.Dial(ctx, client.Config{ServerAddr: *serverAddr})
	if err != nil {
		log.Fatal().Err(err).Str("relay", *serverAddr).Msg("connection failed")
	}
	defer conn.Close()

	cfg := sync.DefaultConfig()
	cfg.ProbeCount = *probes
	cs := sync.NewClockSync(cfg)

	fmt.Printf("=== Clock Sync Test ===\n")
	fmt.Printf("Relay: %s, %d bursts of %d probes\n\n", *serverAddr, *runs, *probes)

	for i := 0; i < *runs; i++ {
		if _, err := cs.Sync(ctx, conn); err != nil {
			log.Warn().Err(err).Int("run", i+1).Msg("sync failed")
		} else {
			st := cs.Stats()
			fmt.Printf("run %d: offset %+.1fms, best rtt %dms, %d samples, quality %s\n",
				i+1, st.OffsetMs, st.BestRTTMs, st.Samples, st.Quality)
		}

		if i == *runs-1 {
			break
		}
		select {
		case <-time.After(*interval):
		case <-ctx.Done():
			return
		}
	}

	fmt.Printf("\nreference now: %s\n", cs.EstimatedReferenceTime().Format(time.RFC3339Nano))
}
