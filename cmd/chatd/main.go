// Command chatd runs the chat server: a TCP listener speaking the binary
// frame protocol, an optional WebSocket bridge, and internal metrics.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmallard/chatd/pkg/database"
	"github.com/jmallard/chatd/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.chatd/config.toml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		server.EnableDebugLogging()
	}

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config := tomlConfig.ToServerConfig()

	dbPath, err := tomlConfig.GetDatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	store, err := database.Open(dbPath, config.DBPoolSize)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	filesDir, err := tomlConfig.GetFilesDir()
	if err != nil {
		log.Fatalf("Failed to resolve files directory: %v", err)
	}
	files, err := server.NewFileStore(filesDir)
	if err != nil {
		log.Fatalf("Failed to open file store: %v", err)
	}

	srv, err := server.NewServer(store, files, config)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Failure to bind is the only fatal startup error.
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}
