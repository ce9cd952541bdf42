// Command applauded runs the session engine daemon. The desktop
// renderer connects over WebSocket; each user turn spawns one agent CLI
// process whose stream-json output is folded into persistent sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chadjholmes/applaude/internal/config"
	"github.com/chadjholmes/applaude/internal/proc"
	"github.com/chadjholmes/applaude/internal/protocol"
	"github.com/chadjholmes/applaude/internal/server"
	"github.com/chadjholmes/applaude/internal/session"
	"github.com/chadjholmes/applaude/internal/settings"
	"github.com/chadjholmes/applaude/internal/store"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("applauded: %v", err)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "applaude.yaml"
	}
	return filepath.Join(home, ".applaude", "config.yaml")
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.Storage.StateDir, "applaude.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	settingsMgr := settings.NewManager(
		filepath.Join(cfg.Storage.StateDir, "settings.yaml"),
		settings.Settings{
			DefaultModel:          cfg.Agent.DefaultModel,
			DefaultPermissionMode: cfg.Agent.DefaultPermissionMode,
			DefaultCwd:            cfg.Agent.DefaultCwd,
		})
	if err := settingsMgr.Load(); err != nil {
		return err
	}
	settingsMgr.OnChange(func(s settings.Settings) {
		log.Printf("settings reloaded: model=%s permission_mode=%s", s.DefaultModel, s.DefaultPermissionMode)
	})
	if err := settingsMgr.Watch(); err != nil {
		log.Printf("settings watch disabled: %v", err)
	}
	defer settingsMgr.Close()

	agentPath := proc.ResolveAgentPath(cfg.Agent.Command, cfg.Agent.Paths)
	log.Printf("agent executable: %s", agentPath)

	sup := proc.NewSupervisor(agentPath, cfg.Agent.PtyCols, cfg.Agent.PtyRows)
	hub := server.NewHub()
	srv := server.New(hub, settingsMgr, cfg.Storage.StateDir)

	registry := session.NewRegistry(sup, protocol.NewAssembler(), st, srv, func() session.Defaults {
		s := settingsMgr.Current()
		return session.Defaults{
			Model:          s.DefaultModel,
			PermissionMode: s.DefaultPermissionMode,
			Cwd:            s.DefaultCwd,
		}
	})
	srv.SetRegistry(registry)

	if err := registry.Load(); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: srv.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	registry.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	return nil
}
