package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pdfchat"
	"pdfchat/internal/handlers"
	"pdfchat/internal/services"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	appDir := filepath.Join(cfgDir, "pdfchat")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFile, err := os.Open(filepath.Join(appDir, "config.yaml"))
	if err != nil {
		log.Fatal(fmt.Errorf("error opening config file: %w", err))
	}
	cfg, err := loadConfig(cfgFile)
	cfgFile.Close()
	if err != nil {
		log.Fatal(err)
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = appDir
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating data directory: %w", err))
	}

	boltDB, err := services.NewBoltDB(filepath.Join(dataDir, "store.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer boltDB.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	m, err := handlers.NewMain(boltDB, handlers.Config{
		DataDir:        dataDir,
		MaxUploadBytes: cfg.Chat.MaxUploadBytes,
		ChunkSize:      cfg.Chat.ChunkSize,
		TokenDelay:     cfg.tokenDelay(),
	}, logger)
	if err != nil {
		log.Fatal(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(pdfchat.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("GET /{$}", m.HandleHome)
	mux.HandleFunc("POST /sessions", m.HandleCreateSession)
	mux.HandleFunc("POST /sessions/{id}/delete", m.HandleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/pdf", m.HandleUploadPDF)
	mux.HandleFunc("GET /chats/stream", m.HandleChatStream)
	mux.HandleFunc("POST /chats/sync", m.HandleChatSync)
	mux.HandleFunc("GET /sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown sse server: %v", err)
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		log.Println("Server starting on :" + cfg.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Printf("Server error: %v", err)

	case sig := <-shutdown:
		log.Printf("Start shutdown, signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("Forcing server close: %v", err)
			}
		}
	}
}
