package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/workspace-sso/storage"
)

// SaveClient stores a client, replacing any client with the same id.
// Clients do not expire.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_client", &err, time.Now())

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client: client_id is required")
	}
	if len(client.ClientID) > MaxKeyPartLength {
		return fmt.Errorf("invalid client: client_id too long")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID, "client_type", client.ClientType)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_client", &err, time.Now())

	if clientID == "" || len(clientID) > MaxKeyPartLength {
		return nil, storage.ErrClientNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return fromClientJSON(&j), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison runs even when the client is unknown.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, secret string) error {
	client, err := s.GetClient(ctx, clientID)

	hash := dummySecretHash
	if err == nil && client.ClientSecretHash != "" {
		hash = client.ClientSecretHash
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err != nil || hash == dummySecretHash || compareErr != nil {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	pattern := s.clientKey("*")

	// SCAN may return a key more than once
	seen := make(map[string]struct{})
	var clients []*storage.Client

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range result.Elements {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue
				}
				return nil, fmt.Errorf("failed to get client %s: %w", key, err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Failed to unmarshal client, skipping", "key", key, "error", err)
				continue
			}
			clients = append(clients, fromClientJSON(&j))
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	return clients, nil
}
