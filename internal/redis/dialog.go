package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// dialogTTL bounds how long a half-finished flow lingers. A user who
// abandons /new mid-question gets a clean slate after this, not a bot that
// still thinks it asked something.
const dialogTTL = 30 * time.Minute

// DialogState is the per-chat position inside a multi-step flow. Stage
// names what the bot is waiting for; TaskID and Title carry whatever the
// earlier steps collected.
type DialogState struct {
	Stage  string `json:"stage"`
	TaskID int64  `json:"task_id,omitempty"`
	Title  string `json:"title,omitempty"`
}

// DialogStore keeps per-chat dialog state in Redis, so a restart of the
// process does not dump every user out of their current flow.
type DialogStore struct {
	client *Client
	logger *zap.Logger
}

// NewDialogStore creates a dialog state store.
func NewDialogStore(client *Client, logger *zap.Logger) *DialogStore {
	return &DialogStore{
		client: client,
		logger: logger,
	}
}

func (s *DialogStore) buildKey(chatID int64) string {
	return fmt.Sprintf("dialog:%d", chatID)
}

// Get returns the chat's current state, or (nil, nil) when the chat is not
// inside any flow.
func (s *DialogStore) Get(ctx context.Context, chatID int64) (*DialogState, error) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(chatID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var state DialogState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		s.logger.Error("failed to unmarshal dialog state",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
		)
		return nil, fmt.Errorf("invalid dialog state: %w", err)
	}

	return &state, nil
}

// Set stores the chat's state, resetting the expiry window.
func (s *DialogStore) Set(ctx context.Context, chatID int64, state *DialogState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal dialog state: %w", err)
	}

	if err := s.client.rdb.Set(ctx, s.buildKey(chatID), data, dialogTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	s.logger.Debug("dialog state set",
		zap.Int64("chat_id", chatID),
		zap.String("stage", state.Stage),
	)
	return nil
}

// Clear drops the chat's state, ending whatever flow it was in.
func (s *DialogStore) Clear(ctx context.Context, chatID int64) error {
	if err := s.client.rdb.Del(ctx, s.buildKey(chatID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
