package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/relaychat/internal/media"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Invalid configuration: %v", err)
	}

	if config.LogFile != "" {
		logFile, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file %s: %v", config.LogFile, err)
		}
		defer logFile.Close()
		log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	}

	log.Println("Starting relay server...")

	// Storage is required; refuse to start without it.
	files, err := media.New(config.FilesDir)
	if err != nil {
		log.Fatalf("Failed to create file storage directories: %v", err)
	}
	log.Printf("Storing received files under %s", files.Root())

	messages, err := store.Open(context.Background(), config.DBPath)
	if err != nil {
		log.Fatalf("Failed to open message database: %v", err)
	}
	defer messages.Close()

	relay := server.New(config,
		server.WithStore(messages),
		server.WithMedia(files),
		server.WithMetrics(server.NewMetrics()),
	)

	listener, err := net.Listen("tcp", config.TCPAddr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", config.TCPAddr, err)
	}

	httpServer := server.CreateServer(config.Port, relay.SetupRoutes())

	errs := make(chan error, 2)
	go func() {
		if err := relay.ServeTCP(listener); err != nil && !errors.Is(err, server.ErrServerClosed) {
			errs <- err
		}
	}()
	go func() {
		if err := server.StartServer(httpServer); err != nil {
			errs <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case s := <-sig:
		log.Printf("Got %v signal", s)
	case err := <-errs:
		log.Printf("Server failed: %v", err)
		exitCode = 1
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		exitCode = 1
	}
	if err := relay.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Relay shutdown error: %v", err)
		exitCode = 1
	}

	log.Println("Relay server stopped")
	if exitCode != 0 {
		messages.Close()
		os.Exit(exitCode)
	}
}
