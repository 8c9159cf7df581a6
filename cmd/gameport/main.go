package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/thelolagemann/gameport/internal/config"
	_ "github.com/thelolagemann/gameport/internal/core/chip8"
	"github.com/thelolagemann/gameport/internal/library"
	"github.com/thelolagemann/gameport/internal/server"
	"github.com/thelolagemann/gameport/internal/session"
	"github.com/thelolagemann/gameport/internal/snapshot"
	"github.com/thelolagemann/gameport/internal/stream"
)

func main() {
	// start pprof
	go func() {
		err := http.ListenAndServe("localhost:6060", nil)
		if err != nil {
			return
		}
	}()

	romFile := flag.String("rom", "", "Game image to install and boot at startup")
	dataDir := flag.String("data", "", "Override the data directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	// Logging. On stdio transport stdout carries the protocol, so logs go
	// to stderr.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logOut := os.Stdout
	if cfg.MCPTransport == "stdio" {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Library.
	lib, err := library.New(cfg.DataDir, logger)
	if err != nil {
		slog.Error("library", "error", err)
		os.Exit(1)
	}

	// Session.
	sess := session.New(lib,
		session.WithLogger(logger),
		session.WithWarmupTicks(cfg.WarmupTicks),
		session.WithMaxTicksPerCommand(cfg.MaxTicks),
	)
	defer sess.Close()

	// Snapshots.
	snaps := snapshot.New(lib, logger)

	// Stream broadcaster.
	cast := stream.New(sess, cfg.StreamFPS, logger)
	defer cast.Stop()

	// MCP surface.
	svc := server.New(lib, snaps, sess, cast, cfg.StreamURL(), logger)
	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "gameport",
		Version: "1.0.0",
	}, nil)
	svc.RegisterMCP(mcpSrv)

	if *romFile != "" {
		frame, err := sess.LoadGame(ctx, *romFile)
		if err != nil {
			slog.Error("load rom", "rom", *romFile, "error", err)
			os.Exit(1)
		}
		slog.Info("rom loaded", "rom", *romFile, "tick", frame.Tick)
	}

	// Router. The viewer page is served on HTTP in both transports; /mcp is
	// only mounted when the protocol itself rides HTTP.
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		st, err := sess.Status(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"loaded":    st.Loaded,
			"streaming": cast.Running(),
			"viewers":   cast.Subscribers(),
		})
	})
	r.Mount("/stream", cast.Routes())
	if cfg.MCPTransport == "http" {
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpSrv
		}, nil))
	}

	// HTTP server.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Addr, "transport", cfg.MCPTransport, "stream", cfg.StreamURL())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	if cfg.MCPTransport == "stdio" {
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("mcp stdio", "error", err)
		}
	} else {
		<-ctx.Done()
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}
