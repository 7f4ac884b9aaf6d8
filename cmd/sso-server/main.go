// Command sso-server runs the workspace SSO authorization server.
//
// Configuration is read from the YAML file given by --config or SSO_CONFIG;
// see internal/config for the file format and the SSO_* overrides.
package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	sso "github.com/giantswarm/workspace-sso"
	"github.com/giantswarm/workspace-sso/internal/config"
	"github.com/giantswarm/workspace-sso/keys"
	"github.com/giantswarm/workspace-sso/security"
	"github.com/giantswarm/workspace-sso/server"
	"github.com/giantswarm/workspace-sso/storage/memory"
	"github.com/giantswarm/workspace-sso/storage/valkey"
)

var version = "dev"

const (
	ephemeralKeyBits = 2048
	shutdownTimeout  = 15 * time.Second
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("SSO_CONFIG"), "path to the YAML configuration file")
		listen     = flag.String("listen", "", "listen address, overrides the configuration file")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn or error")
		logFormat  = flag.String("log-format", "json", "log format: json or text")
		showVer    = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}

	logger, err := setupLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(*configPath, *listen, logger); err != nil {
		logger.Error("sso-server failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

func run(configPath, listen string, logger *slog.Logger) error {
	if configPath == "" {
		return errors.New("no configuration file: pass --config or set SSO_CONFIG")
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	provider, err := loadKeys(cfg.Keys, logger)
	if err != nil {
		return err
	}

	srvConfig, err := cfg.ServerConfig()
	if err != nil {
		return err
	}
	srv, err := server.New(stores.Stores, provider, cfg.Directory(), srvConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	for _, reg := range cfg.Registrations() {
		if _, err := srv.Clients.Register(ctx, reg); err != nil {
			return fmt.Errorf("failed to provision client: %w", err)
		}
	}
	logger.Info("Provisioned clients and users", "clients", len(cfg.Clients), "users", len(cfg.Users))

	handler, err := sso.NewHandler(srv, cfg.HandlerConfig(version), logger)
	if err != nil {
		return err
	}
	if handler.Instrumentation() != nil {
		stores.setInstrumentation(handler)
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"ok"}`)
	})
	if cfg.Telemetry.MetricsExporter == "prometheus" {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Prometheus metrics endpoint enabled", "path", "/metrics")
	}
	if cfg.DevLogin {
		logger.Warn("DEVELOPMENT WARNING: password-less login form enabled",
			"path", "/dev/login",
			"risk", "anyone reaching the server can sign in as any provisioned user",
			"recommendation", "disable dev_login outside local development")
		mux.Handle("/dev/login", devLogin(handler, cfg, logger))
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           security.RequestIDMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting SSO server", "addr", cfg.Listen, "issuer", cfg.Issuer, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := handler.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("handler shutdown: %w", err))
	}
	return errors.Join(errs...)
}

type openedStores struct {
	server.Stores
	setInstrumentation func(*sso.Handler)
}

func openStores(cfg *config.Config, logger *slog.Logger) (*openedStores, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendValkey:
		store, err := valkey.New(valkey.Config{
			Address:   cfg.Storage.Valkey.Address,
			Password:  cfg.Storage.Valkey.Password,
			DB:        cfg.Storage.Valkey.DB,
			KeyPrefix: cfg.Storage.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		if k := cfg.Storage.Valkey.EncryptionKey; k != "" {
			key, err := security.KeyFromBase64(k)
			if err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("invalid storage.valkey.encryption_key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				store.Close()
				return nil, nil, err
			}
			store.SetEncryptor(enc)
			logger.Info("Encryption at rest enabled for cached profiles")
		}
		logger.Info("Using valkey storage", "address", cfg.Storage.Valkey.Address)
		return &openedStores{
			Stores: server.Stores{Clients: store, Codes: store, RefreshTokens: store, Sessions: store},
			setInstrumentation: func(h *sso.Handler) {
				store.SetInstrumentation(h.Instrumentation())
			},
		}, store.Close, nil

	default:
		store := memory.New()
		store.SetLogger(logger)
		logger.Warn("Using in-memory storage",
			"risk", "state is lost on restart and not shared between replicas",
			"recommendation", "use the valkey backend when running more than one instance")
		return &openedStores{
			Stores: server.Stores{Clients: store, Codes: store, RefreshTokens: store, Sessions: store},
			setInstrumentation: func(h *sso.Handler) {
				store.SetInstrumentation(h.Instrumentation())
			},
		}, store.Stop, nil
	}
}

func loadKeys(cfg config.KeysConfig, logger *slog.Logger) (keys.Provider, error) {
	var current *rsa.PrivateKey
	if cfg.SigningKeyFile != "" {
		key, err := keys.LoadPrivateKeyFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, err
		}
		current = key
	} else {
		key, err := keys.Generate(ephemeralKeyBits)
		if err != nil {
			return nil, err
		}
		current = key
		logger.Warn("CRITICAL SECURITY WARNING: using an ephemeral signing key",
			"risk", "every restart invalidates all issued tokens and replicas cannot verify each other's tokens",
			"recommendation", "set keys.signing_key_file or SSO_SIGNING_KEY_FILE")
	}

	previous := make([]*rsa.PublicKey, 0, len(cfg.PreviousKeyFiles))
	for _, path := range cfg.PreviousKeyFiles {
		pub, err := keys.LoadPublicKeyFile(path)
		if err != nil {
			return nil, err
		}
		previous = append(previous, pub)
	}
	provider, err := keys.NewStaticProvider(current, previous...)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// devLogin serves a password-less sign-in form. It only redirects back
// to this server's authorization endpoint.
func devLogin(handler *sso.Handler, cfg *config.Config, logger *slog.Logger) http.Handler {
	authorizePrefix := strings.TrimSuffix(cfg.Issuer, "/") + server.PathAuthorize + "?"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		returnTo := r.FormValue(sso.ReturnToParam)
		if returnTo != "" && !strings.HasPrefix(returnTo, authorizePrefix) {
			http.Error(w, "invalid return_to", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodGet:
			security.SetSecurityHeaders(w, cfg.Issuer)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; form-action 'self'; frame-ancestors 'none'")
			_, _ = fmt.Fprintf(w, `<!DOCTYPE html><html><body><form method="post">
<input type="hidden" name="return_to" value="%s">
<select name="user_id">`, html.EscapeString(returnTo))
			for _, u := range cfg.Users {
				_, _ = fmt.Fprintf(w, `<option value="%s">%s</option>`, html.EscapeString(u.ID), html.EscapeString(u.ID))
			}
			_, _ = fmt.Fprint(w, `</select><button type="submit">Sign in</button></form></body></html>`)

		case http.MethodPost:
			if err := handler.EstablishSession(w, r, r.PostFormValue("user_id")); err != nil {
				logger.Warn("Dev login failed", "error", err)
				http.Error(w, "sign in failed", http.StatusBadRequest)
				return
			}
			if returnTo == "" {
				returnTo = strings.TrimSuffix(cfg.Issuer, "/") + server.PathDiscovery
			}
			http.Redirect(w, r, returnTo, http.StatusFound)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
