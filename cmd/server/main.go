package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"stallmanager/backend/internal/backend"
	"stallmanager/backend/internal/config"
	"stallmanager/backend/internal/httpapi"
	"stallmanager/backend/internal/service"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	settings, err := backend.ServiceSettings(cfg)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closeRepo, err := backend.OpenRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("%v; refusing to start with in-memory fallback", err)
	}
	pins, closeCache := backend.OpenPINCache(ctx, cfg)
	closers := []func() error{closeCache, closeRepo}

	svc := service.New(repo, pins, settings)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	if cfg.AdminEmail != "" {
		if err := auth.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.Fatalf("seed admin account: %v", err)
		}
		log.Printf("admin account: %s", cfg.AdminEmail)
	} else {
		log.Println("WARNING: ADMIN_EMAIL is not set; only existing admin accounts can sign in")
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("stall manager listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminEmail == "" && cfg.AdminPassword == "" {
		return nil
	}
	if !strings.Contains(cfg.AdminEmail, "@") {
		return fmt.Errorf("ADMIN_EMAIL must be an email address")
	}
	if err := validatePasswordStrength(cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength rejects short passwords, well-known ones, ones
// made of a single repeated character and ones derived from the email.
func validatePasswordStrength(email string, password string) error {
	if len(password) < 10 {
		return fmt.Errorf("must be at least 10 characters")
	}

	lower := strings.ToLower(password)
	known := map[string]bool{
		"password123": true, "password1234": true, "1234567890": true,
		"qwertyuiop": true, "letmein123": true, "changeme123": true,
		"administrator": true, "admin12345": true,
	}
	if known[lower] {
		return fmt.Errorf("common password not allowed")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("repeated-character password not allowed")
	}

	if local, _, ok := strings.Cut(strings.ToLower(email), "@"); ok && local != "" && strings.Contains(lower, local) {
		return fmt.Errorf("password must not contain the email name")
	}
	return nil
}
