package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/refractionPOINT/syslog-generator/counters"
	"github.com/refractionPOINT/syslog-generator/generator"
)

var healthCheckServer *http.Server

func startHealthChecks(port int, g *generator.Generator, registry *counters.Registry) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	healthCheckServer = &http.Server{
		Handler:           newHealthHandler(g, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := healthCheckServer.Serve(l); err != nil && err != http.ErrServerClosed {
			logError("healthcheck server: %v", err)
		}
	}()
	log("healthcheck listening on %s", l.Addr())
	return nil
}

func stopHealthChecks() {
	if healthCheckServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	healthCheckServer.Shutdown(ctx)
	healthCheckServer = nil
}

func newHealthHandler(g *generator.Generator, registry *counters.Registry) http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := "ok"
		select {
		case <-g.Done():
			status = "done"
		default:
		}
		data := map[string]interface{}{
			"status":       status,
			"version":      version,
			"run_id":       g.RunID(),
			"queue_length": g.QueueLen(),
			"counters":     registry.Snapshot(),
		}
		d, err := json.Marshal(data)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			logError("healthcheck format error: %v", err)
			return
		}
		if _, err := w.Write(d); err != nil {
			logError("healthcheck response error: %v", err)
			return
		}
	})
	return m
}
