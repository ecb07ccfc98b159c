// ABOUTME: Client-side commands: health check, tenant listing and token minting
// ABOUTME: Talk to a running server over HTTP or sign tokens with the configured secret

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/2389/botfactory/internal/auth"
	"github.com/2389/botfactory/internal/config"
	"github.com/2389/botfactory/internal/factory"
)

func runHealth(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func runTenants(ctx context.Context, out io.Writer, configPath, token string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/tenants", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("listing tenants: status %d: %s", resp.StatusCode, apiErr.Error)
	}

	var tenants []factory.TenantResponse
	if err := json.NewDecoder(resp.Body).Decode(&tenants); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return printTenants(out, tenants)
}

func printTenants(out io.Writer, tenants []factory.TenantResponse) error {
	if len(tenants) == 0 {
		fmt.Fprintln(out, "no tenants")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCREATED")
	for _, t := range tenants {
		status := "stopped"
		switch {
		case t.Running:
			status = "running"
		case t.Active:
			status = "active, not running"
		}
		fmt.Fprintf(tw, "%d\t@%s\t%s\t%s\n", t.ID, t.Name, status, t.CreatedAt)
	}
	return tw.Flush()
}

func runToken(out io.Writer, configPath string, owner int64, ttl time.Duration) error {
	if owner <= 0 {
		return fmt.Errorf("--owner must be a positive user ID")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(owner, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
