package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arthapay/payouts/internal/api"
	"github.com/arthapay/payouts/internal/auth"
	"github.com/arthapay/payouts/internal/config"
	"github.com/arthapay/payouts/internal/connector"
	"github.com/arthapay/payouts/internal/gateway"
	"github.com/arthapay/payouts/internal/payout"
	"github.com/arthapay/payouts/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer st.Close()

	if err := st.Init(context.Background()); err != nil {
		log.Fatalf("Schema init failed: %v", err)
	}

	// Initialize Layers
	verifier := auth.NewVerifier(cfg.TokenSecret, st)
	ledger := store.NewLedger(st.Db)
	resolver := connector.NewResolver(st)
	adapter := gateway.NewAdapter(cfg.GatewayBaseURL)
	coordinator := payout.NewCoordinator(verifier, st, ledger, resolver, adapter)
	handler := api.NewHandler(coordinator)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/payouts", handler.InitiatePayout).Methods("POST")
	apiV1.HandleFunc("/payouts/status", handler.CheckStatus).Methods("POST")
	apiV1.HandleFunc("/payouts/{requestId}", handler.GetPayout).Methods("GET")
	apiV1.HandleFunc("/balance", handler.GetBalance).Methods("GET")

	log.Printf("Server starting on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
