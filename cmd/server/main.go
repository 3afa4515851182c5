package main

import (
	"context"
	"log"
	"net/http"
	"os"

	webAdapter "medsupply/internal/adapters/web"
	"medsupply/internal/core"
	"medsupply/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	ledger := core.NewLedger(pool)
	stockService := core.NewStockService(pool, ledger)
	catalogService := core.NewCatalogService(pool)
	reportingService := core.NewReportingService(pool)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	handler := webAdapter.NewHandler(ledger, stockService, catalogService, reportingService, allowedOrigins)

	log.Printf("server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
