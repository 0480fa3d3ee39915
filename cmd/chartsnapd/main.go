package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourusername/chartsnap/pkg/api"
	"github.com/yourusername/chartsnap/pkg/cron"
	"github.com/yourusername/chartsnap/pkg/store"
)

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("WARNING: Invalid value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func main() {
	godotenv.Load()

	listenAddr := flag.String("listen", getEnv("CHARTSNAP_LISTEN", ":8080"), "HTTP listen address")
	dbPath := flag.String("db", getEnv("CHARTSNAP_DB", "chartsnap.db"), "SQLite database path")
	maxConcurrent := flag.Int("max-concurrent", getEnvInt("CHARTSNAP_MAX_CONCURRENT", 5), "Maximum concurrent scheduled renders")
	flag.Parse()

	st, err := store.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := cron.NewScheduler(st, *maxConcurrent)
	scheduler.SetContext(ctx)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	server := &http.Server{
		Addr:              *listenAddr,
		Handler:           api.NewHandler(st, scheduler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Listening on %s", *listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING: HTTP shutdown: %v", err)
	}

	cancel()
	scheduler.Stop()

	if err := st.Close(); err != nil {
		log.Printf("WARNING: Store close: %v", err)
	}
	log.Println("Shutdown complete")
}
