package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tennashi/snmp3"
)

func main() {
	configPath := flag.String("config", "snmp3d.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := snmp3.LoadConfig(configPath)
	if err != nil {
		return err
	}
	id, err := cfg.LocalEngineID()
	if err != nil {
		return err
	}

	registry := snmp3.NewRegistry()
	users, err := cfg.UserTable(registry)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := snmp3.NewMetrics(reg)

	e := snmp3.NewEngine(id, users, snmp3.NotificationReceiverFunc(logNotification),
		snmp3.WithRegistry(registry),
		snmp3.WithMetrics(metrics),
	)
	e.Dispatcher().SetRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.MetricsListen,
		Handler:           setupRoutes(e, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Println("http:", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	conn, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		return err
	}
	log.Println("engine", e.ID, "listening on", cfg.Listen, "metrics on", cfg.MetricsListen)
	if err := e.Serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setupRoutes(e *snmp3.Engine, reg *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/engine", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			EngineID snmp3.EngineID
			Format   string
		}{e.ID, e.ID.Format().String()})
	}).Methods("GET")
	router.HandleFunc("/engines", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(e.USM.TimeSync().Snapshot())
	}).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	return router
}

func logNotification(_ context.Context, m *snmp3.Message) error {
	scoped, ok := m.ScopedPDU()
	if !ok {
		return nil
	}
	log.Println("notification from", m.RemoteAddr, "user", m.SecurityParameters.UserName)
	for _, vb := range scoped.PDU.VariableBindings {
		log.Printf("  %s = %v", vb.Name, vb.Value)
	}
	return nil
}
