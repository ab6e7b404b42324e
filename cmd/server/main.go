package main

import (
	"context"
	"log"
	"net/http"
	"os"

	webAdapter "stores-engine/internal/adapters/web"
	"stores-engine/internal/app"
	"stores-engine/internal/core"
	"stores-engine/internal/db"
	"stores-engine/internal/events"

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

	ledger := core.NewInventoryLedger(pool)
	alloc := core.NewAllocationEngine(pool, ledger)
	policy := core.NewRolePolicy(pool)
	workflow := core.NewDocumentWorkflow(pool, ledger, alloc, policy)
	gate := core.NewCommanderReserveGate(pool)
	custody := core.NewCustodyLedger(pool, ledger, alloc,
		core.ReturnPool(os.Getenv("CUSTODY_RETURN_POOL")))

	svc := app.NewAppService(pool, ledger, alloc, workflow, gate, custody)

	var publisher events.Publisher = events.LogPublisher{}
	redisClient, err := db.NewRedisClient(ctx)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		publisher = events.NewRedisPublisher(redisClient)
	} else {
		log.Println("REDIS_ADDR not set, events go to the process log")
	}

	dispatcherCtx, stopDispatcher := context.WithCancel(ctx)
	defer stopDispatcher()
	go events.NewDispatcher(pool, publisher).Run(dispatcherCtx)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	handler := webAdapter.NewHandler(svc, allowedOrigins)

	log.Printf("server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
