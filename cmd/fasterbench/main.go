package main

import (
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fasterkv/internal/workload"
	"fasterkv/pkg/config"
	"fasterkv/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML store configuration file")
	httpAddr := flag.String("http-addr", ":9091", "address to serve /metrics and /healthz on")
	threads := flag.Int("threads", 8, "number of concurrent sessions for the resize/increment scenario")
	rmwsPerThread := flag.Int("rmws-per-thread", 2048, "rmws each thread performs in the increment scenario")
	keyRange := flag.Int("key-range", 8192, "key range the increment scenario cycles over")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("could not load configuration: %v", err)
	}

	f, err := store.New[store.Uint64Key](cfg.Store.ToOptions(), store.DecodeUint64Key)
	if err != nil {
		log.Fatalf("could not construct store: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	httpSrv := &http.Server{Addr: *httpAddr, Handler: mux}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("serving metrics", "addr", *httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	go func() {
		start := time.Now()
		res, err := workload.ConcurrentIncrement(f, *threads, *rmwsPerThread, *keyRange, 0)
		if err != nil {
			slog.Error("workload failed", "err", err)
			return
		}
		slog.Info("workload complete",
			"elapsed", time.Since(start),
			"index_size", res.IndexSizeAfter,
		)
	}()

	<-shutdownChan
	slog.Info("shutting down")
	_ = httpSrv.Close()
}
