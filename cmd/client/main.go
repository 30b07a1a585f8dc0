package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/media"
)

// BinaryName - name of run application binary
var BinaryName = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))

// Configuration - client configuration
type Configuration struct {
	Address  string
	Port     uint
	LogFile  string
	FilesDir string
}

func parseFlags(args []string) (Configuration, error) {
	cfg := Configuration{}

	fs := flag.NewFlagSet(BinaryName, flag.ContinueOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Chat with a relay server from the terminal\n\n\t%s [options]\n\n", BinaryName)
		fmt.Fprint(out, "Commands: .file <path>, .image <path>, .user [name], .stop\nOptions:\n\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.Address, "address", "127.0.0.1", "Server address")
	fs.UintVar(&cfg.Port, "port", 11111, "Server TCP port")
	fs.StringVar(&cfg.LogFile, "logfile", "client.log", "Log file")
	fs.StringVar(&cfg.FilesDir, "files", "files", "Directory for received files and photos")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Port == 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	return cfg, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%s error:\n\n\t%v\n", BinaryName, err)
		return 1
	}

	logFile, err := os.Create(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logfile %s: %v\n", cfg.LogFile, err)
		return 1
	}
	defer logFile.Close()
	logger := stdlog.New(logFile, "client ", stdlog.Ldate|stdlog.Ltime)

	logger.Println("Creating file storage directories...")
	files, err := media.New(cfg.FilesDir)
	if err != nil {
		logger.Println("ERR", "Failed to create directories to store files:", err)
		fmt.Fprintf(os.Stderr, "Failed to create directories to store files: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(cfg.Address, strconv.FormatUint(uint64(cfg.Port), 10))
	logger.Printf("Connecting to server on %s", addr)
	c, err := client.Dial(ctx, addr,
		client.WithLogger(logger),
		client.WithOutput(os.Stdout),
		client.WithMedia(files),
	)
	if err != nil {
		logger.Println("ERR", err)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	err = c.Run(ctx, os.Stdin)
	switch {
	case errors.Is(err, client.ErrStopped):
		return 0
	case errors.Is(err, client.ErrServerDisconnected):
		logger.Println("Server disconnected...")
		fmt.Println("Server disconnected")
		return 0
	case errors.Is(err, context.Canceled):
		return 0
	default:
		logger.Println("ERR", err)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
}
