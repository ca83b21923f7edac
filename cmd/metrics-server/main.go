// Command metrics-server serves the Prometheus default registry of its own
// process over HTTP. Importing internal/metrics registers the engine's
// collector families here, but the values it serves are this process's
// own; counters recorded inside cmd/ragserver are not visible here.
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/semaj90/ragengine/internal/metrics"
)

func main() {
	addr := getenv("METRICS_ADDR", ":9109")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	log.Printf("metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
