package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frameloop/frameloop-agent/internal/api"
	"github.com/frameloop/frameloop-agent/internal/config"
	"github.com/frameloop/frameloop-agent/internal/db"
	"github.com/frameloop/frameloop-agent/internal/library"
	"github.com/frameloop/frameloop-agent/internal/logging"
	"github.com/frameloop/frameloop-agent/internal/media"
	"github.com/frameloop/frameloop-agent/internal/session"
	"github.com/frameloop/frameloop-agent/internal/ui"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting frameloop agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := library.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                   FRAMELOOP AGENT v0.1.0                  ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	librarySvc := library.NewService(repo, library.FFProbe{}, cfg.MediaDir(), logging.WithComponent(logger, "library"))
	mediaSvc := media.NewServer(logger)
	hub := api.NewHub(logging.WithComponent(logger, "ws"))

	sessions := session.NewManager(repo, cfg, session.Hooks{
		FactoryFor:   hub.FactoryFor,
		LoadErrorFor: hub.LoadErrorFor,
	}, logging.WithComponent(logger, "session"))

	apiServer := api.NewServer(api.ServerConfig{
		Config:     cfg,
		Library:    librarySvc,
		Repository: repo,
		Sessions:   sessions,
		Media:      mediaSvc,
		Hub:        hub,
		Logger:     logging.WithComponent(logger, "api"),
		StartTime:  startTime,
		DeviceID:   deviceID,
	})

	g, gCtx := errgroup.WithContext(context.Background())
	g.Go(apiServer.Start)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-gCtx.Done():
			logger.Error("HTTP server exited early")
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Sessions: sessions,
			Logger:   logging.WithComponent(logger, "tray"),
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
		go trayRefreshLoop(quitCh, tray, sessions)
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	sessions.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := g.Wait(); err != nil {
		logger.Error("HTTP server error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// trayRefreshLoop keeps the tray status in sync with the open sessions.
func trayRefreshLoop(quitCh <-chan struct{}, tray *ui.Tray, sessions *session.Manager) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-quitCh:
			return
		case <-ticker.C:
			count := sessions.Count()
			tray.UpdateSessionsCount(count)

			status := "Idle"
			for _, s := range sessions.List() {
				if s.Playing() {
					status = "Playing"
					break
				}
			}
			if status == "Idle" && count > 0 {
				status = "Editing"
			}
			tray.UpdateStatus(status)
		}
	}
}

func ensureDeviceID(repo library.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo library.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
