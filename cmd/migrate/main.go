package main

import (
	"context"
	"log"
	"os"

	"medsupply/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	dir := "migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, dir); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrations applied")
}
