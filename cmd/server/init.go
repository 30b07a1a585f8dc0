package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Tyrowin/relaychat/internal/server"
)

// BinaryName - name of run application binary
var BinaryName = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))

// loadConfig overlays command line flags on the environment configuration.
func loadConfig(args []string) (*server.Config, error) {
	cfg := server.NewConfigFromEnv()

	fs := flag.NewFlagSet(BinaryName, flag.ContinueOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Launch the chat relay over TCP and WebSocket\n\n\t%s [options]\nOptions:\n\n", BinaryName)
		fs.PrintDefaults()
		fmt.Fprint(out, "\n")
	}

	fs.StringVar(&cfg.TCPAddr, "tcp", cfg.TCPAddr, "Listen address of the framed TCP relay")
	fs.StringVar(&cfg.Port, "http", cfg.Port, "Listen address of the HTTP server (WebSocket relay, API, metrics)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path of the SQLite message database")
	fs.StringVar(&cfg.FilesDir, "files", cfg.FilesDir, "Directory for received files and photos")
	fs.StringVar(&cfg.LogFile, "logfile", cfg.LogFile, "Log file, written in addition to stdout; empty disables it")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Disconnect TCP clients idle for this long; 0 disables it")
	fs.Int64Var(&cfg.MaxFrameSize, "max-frame", cfg.MaxFrameSize, "Maximum TCP frame payload in bytes")
	origins := fs.String("origins", strings.Join(cfg.AllowedOrigins, ","), "Comma separated WebSocket origins, * allows all")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.AllowedOrigins = strings.Split(*origins, ",")
	if cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("idle-timeout must not be negative, got %v", cfg.IdleTimeout)
	}
	if cfg.MaxFrameSize <= 0 {
		return nil, fmt.Errorf("max-frame must be positive, got %d", cfg.MaxFrameSize)
	}
	return cfg, nil
}
