package store

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"

	"github.com/instant-demo/smake/internal/config"
	"github.com/instant-demo/smake/internal/domain"
)

// Key prefixes
const (
	keyTags = "smake:tags:" // smake:tags:{instanceID} -> hash of tag key/value
)

// ValkeyTagStore keeps instance tags for providers that have no native tag
// storage. Each instance's tags live in one hash.
type ValkeyTagStore struct {
	client valkey.Client
}

// NewValkeyTagStore connects to Valkey.
func NewValkeyTagStore(cfg *config.StoreConfig) (*ValkeyTagStore, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{cfg.ValkeyAddr},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	return &ValkeyTagStore{client: client}, nil
}

// Close closes the Valkey connection.
func (s *ValkeyTagStore) Close() {
	s.client.Close()
}

// Ping checks the Valkey connection.
func (s *ValkeyTagStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// SetTags adds or overwrites tags on an instance.
func (s *ValkeyTagStore) SetTags(ctx context.Context, id string, tags domain.Tags) error {
	if len(tags) == 0 {
		return nil
	}

	cmd := s.client.B().Hset().Key(keyTags + id).FieldValue()
	for k, v := range tags {
		cmd = cmd.FieldValue(k, v)
	}
	if err := s.client.Do(ctx, cmd.Build()).Error(); err != nil {
		return fmt.Errorf("failed to set tags: %w", err)
	}
	return nil
}

// GetTags returns all tags of an instance. An untagged instance yields an empty set.
func (s *ValkeyTagStore) GetTags(ctx context.Context, id string) (domain.Tags, error) {
	m, err := s.client.Do(ctx, s.client.B().Hgetall().Key(keyTags+id).Build()).AsStrMap()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return domain.Tags{}, nil
		}
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}
	return domain.Tags(m), nil
}

// DeleteTags removes tag keys from an instance. Missing keys are ignored.
func (s *ValkeyTagStore) DeleteTags(ctx context.Context, id string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Do(ctx, s.client.B().Hdel().Key(keyTags+id).Field(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete tags: %w", err)
	}
	return nil
}

// DeleteAll drops every tag of an instance.
func (s *ValkeyTagStore) DeleteAll(ctx context.Context, id string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(keyTags+id).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete tag set: %w", err)
	}
	return nil
}
