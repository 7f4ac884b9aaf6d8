package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/workspace-sso/instrumentation"
	"github.com/giantswarm/workspace-sso/security"
	"github.com/giantswarm/workspace-sso/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "sso:"

	// DefaultRevokedGroupRetention is how long a revoked rotation group is
	// remembered after revocation.
	DefaultRevokedGroupRetention = 30 * 24 * time.Hour

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxKeyPartLength bounds ids and tokens used in key names. Longer
	// values cannot have been issued and are rejected before any round trip.
	MaxKeyPartLength = 512

	dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "sso:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Clock decides expiry. Key TTLs in Valkey are derived from it too,
	// so a record never outlives its logical expiry. Default: system clock.
	Clock security.Clock

	// RevokedGroupRetention is how long a revoked rotation group keeps
	// refusing new members. Default: 30 days.
	RevokedGroupRetention time.Duration
}

// Store is a Valkey-backed implementation of all storage interfaces.
//
// Single-use and rotation state transitions run as Lua scripts so that
// they are atomic across server replicas.
type Store struct {
	client    valkeygo.Client
	prefix    string
	logger    *slog.Logger
	clock     security.Clock
	retention time.Duration

	telemetry atomic.Pointer[storeTelemetry]

	// encryptor seals record payloads at rest; guarded by encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

var (
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.CodeStore         = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
	_ storage.SessionStore      = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = security.SystemClock()
	}

	retention := cfg.RevokedGroupRetention
	if retention <= 0 {
		retention = DefaultRevokedGroupRetention
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:    client,
		prefix:    prefix,
		logger:    logger,
		clock:     clock,
		retention: retention,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans and storage metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		s.telemetry.Store(nil)
		return
	}
	s.telemetry.Store(&storeTelemetry{inst: inst, tracer: inst.Tracer("storage")})
}

// SetEncryptor sets the encryptor for record payloads at rest.
// Records written before an encryptor was set cannot be read after.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// seal encrypts a payload when an encryptor is configured.
func (s *Store) seal(payload []byte) (string, error) {
	return s.getEncryptor().Encrypt(payload)
}

// open reverses seal.
func (s *Store) open(stored string) ([]byte, error) {
	return s.getEncryptor().Decrypt(stored)
}

func (s *Store) clientKey(clientID string) string { return s.prefix + "client:" + clientID }
func (s *Store) codeKey(code string) string       { return s.prefix + "code:" + code }
func (s *Store) refreshKey(token string) string   { return s.prefix + "refresh:" + token }
func (s *Store) groupKey(groupID string) string   { return s.prefix + "group:" + groupID }
func (s *Store) sessionKey(id string) string      { return s.prefix + "session:" + id }

// groupRevokedKey marks a revoked rotation group. It outlives the group's
// members for the retention period.
func (s *Store) groupRevokedKey(groupID string) string {
	return s.prefix + "group:" + groupID + ":revoked"
}

// ttlUntil returns the key TTL for a record expiring at expiresAt, or 0
// when the record is already expired.
func (s *Store) ttlUntil(expiresAt time.Time) time.Duration {
	return security.RemainingLifetime(s.clock.Now(), expiresAt)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func millisArg(t time.Time) string {
	return strconv.FormatInt(toMillis(t), 10)
}

func durationArg(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

type storeTelemetry struct {
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
}

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	t := s.telemetry.Load()
	if t == nil {
		return ctx, tracenoop.Span{}
	}

	return t.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "valkey"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, errp *error, start time.Time) {
	t := s.telemetry.Load()
	if t == nil {
		return
	}

	result := "success"
	if *errp != nil {
		result = "error"
		instrumentation.RecordError(span, *errp)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	durationMs := float64(time.Since(start).Microseconds()) / 1000.0
	t.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
