package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vaultkit.org/internal/audit"
	"vaultkit.org/internal/consent"
	"vaultkit.org/internal/dissent"
	"vaultkit.org/internal/enforce"
	"vaultkit.org/internal/gauge"
	"vaultkit.org/internal/httpapi"
	"vaultkit.org/internal/obs"
	"vaultkit.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("VAULT_BUILD_COMMIT"))

	// Audit chain: durable when a DSN is configured, in-memory otherwise.
	var (
		chain   audit.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("VAULT_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open audit store: %v", err)
		}
		chain = pgStore
	} else {
		chain = audit.NewChain()
	}

	// Delegated enforcement is optional; without a command every
	// /v1/enforce call reports unavailable.
	var enforcer *enforce.Bridge
	if cmd := os.Getenv("VAULT_ENFORCER_CMD"); cmd != "" {
		parts := strings.Fields(cmd)
		enforcer = enforce.NewBridge(parts[0], parts[1:])
	}

	bus := gauge.NewBus()
	advisorCtx, stopAdvisor := context.WithCancel(context.Background())
	defer stopAdvisor()
	gauge.RegisterAdvisor(advisorCtx, bus)

	api := httpapi.New(httpapi.Config{
		Chain:    chain,
		Consents: consent.NewRegistry(),
		Dissent:  dissent.NewEngine(),
		Enforcer: enforcer,
		Bus:      bus,
		Version:  version,
	})

	addr := os.Getenv("VAULT_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting vaultkit-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
