package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/workspace-sso/internal/util"
	"github.com/giantswarm/workspace-sso/storage"
)

// eval runs a Lua script.
func (s *Store) eval(ctx context.Context, script string, keys []string, args ...string) valkeygo.ValkeyResult {
	return s.client.Do(ctx,
		s.client.B().Eval().Script(script).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(args...).
			Build(),
	)
}

// SaveAuthorizationCode stores a newly issued code. The key expires with
// the code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_code", &err, time.Now())

	if code == nil || code.Code == "" || len(code.Code) > MaxKeyPartLength {
		return fmt.Errorf("invalid authorization code")
	}

	ttl := s.ttlUntil(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	raw, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	data, err := s.seal(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt authorization code: %w", err)
	}

	used := "0"
	if code.Used {
		used = "1"
	}

	result, err := s.eval(ctx, luaSaveRecord, []string{s.codeKey(code.Code)},
		durationArg(ttl),
		"data", data,
		"expires_at", expiryField(code.ExpiresAt),
		"used", used,
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	if result == "EXISTS" {
		return fmt.Errorf("authorization code already exists")
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, util.TokenLogPrefixLength))
	return nil
}

// ConsumeAuthorizationCode atomically checks and marks a code used.
// The record is returned only on success or on reuse.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (rec *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "consume_code", &err, time.Now())

	if code == "" || len(code) > MaxKeyPartLength {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	result, err := s.eval(ctx, luaConsumeCode, []string{s.codeKey(code)},
		millisArg(s.clock.Now()),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code check: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrAuthorizationCodeNotFound
	case result == "EXPIRED":
		return nil, storage.ErrAuthorizationCodeExpired
	case strings.HasPrefix(result, "USED:"):
		rec, err := s.decodeCode(strings.TrimPrefix(result, "USED:"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrAuthorizationCodeUsed, err)
		}
		return rec, storage.ErrAuthorizationCodeUsed
	case strings.HasPrefix(result, "OK:"):
		rec, err := s.decodeCode(strings.TrimPrefix(result, "OK:"))
		if err != nil {
			return nil, err
		}
		s.logger.Debug("Consumed authorization code",
			"code_prefix", util.SafeTruncate(code, util.TokenLogPrefixLength))
		return rec, nil
	}
	return nil, fmt.Errorf("unexpected code script result %q", util.SafeTruncate(result, 16))
}

// decodeCode parses the data field of a consumed code. Only consumed
// codes are ever decoded, so Used is always true.
func (s *Store) decodeCode(data string) (*storage.AuthorizationCode, error) {
	raw, err := s.open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt authorization code: %w", err)
	}
	var j authorizationCodeJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}
	rec := fromAuthorizationCodeJSON(&j)
	rec.Used = true
	return rec, nil
}
