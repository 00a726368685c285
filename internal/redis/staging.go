package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/livpulse/internal/core"
	"github.com/JonMunkholm/livpulse/internal/schema"
)

// Key namespaces, each suffixed with the upload id.
const (
	progressPrefix = "csv:progress:"
	resultPrefix   = "csv:result:"
	dataTypePrefix = "csv:datatype:"
	commitPrefix   = "csv:commit:"
)

// Staging stores staged uploads as JSON values with per-namespace TTLs.
// Unreachable Redis degrades to absent reads and dropped writes.
type Staging struct {
	client      *Client
	progressTTL time.Duration
	resultTTL   time.Duration
}

var _ core.Staging = (*Staging)(nil)

// NewStaging returns a Staging on client. Zero TTLs fall back to the core defaults.
func NewStaging(client *Client, progressTTL, resultTTL time.Duration) *Staging {
	if progressTTL <= 0 {
		progressTTL = core.DefaultProgressTTL
	}
	if resultTTL <= 0 {
		resultTTL = core.DefaultResultTTL
	}
	return &Staging{client: client, progressTTL: progressTTL, resultTTL: resultTTL}
}

func (s *Staging) PutProgress(ctx context.Context, uploadID string, p core.Progress) {
	s.put(ctx, progressPrefix+uploadID, p, s.progressTTL)
}

func (s *Staging) GetProgress(ctx context.Context, uploadID string) (core.Progress, bool) {
	var p core.Progress
	ok := s.get(ctx, progressPrefix+uploadID, &p)
	return p, ok
}

func (s *Staging) PutResult(ctx context.Context, uploadID string, staged core.StagedUpload) {
	s.put(ctx, resultPrefix+uploadID, staged, s.resultTTL)
}

func (s *Staging) GetResult(ctx context.Context, uploadID string) (core.StagedUpload, bool) {
	var staged core.StagedUpload
	ok := s.get(ctx, resultPrefix+uploadID, &staged)
	return staged, ok
}

// PutDataType stores the bare data type string, not JSON.
func (s *Staging) PutDataType(ctx context.Context, uploadID string, dt schema.DataType) {
	if err := s.client.Set(ctx, dataTypePrefix+uploadID, string(dt), s.resultTTL); err != nil {
		slog.Warn("redis staging write failed", "key", dataTypePrefix+uploadID, "error", err)
	}
}

func (s *Staging) GetDataType(ctx context.Context, uploadID string) (schema.DataType, bool) {
	raw, err := s.client.Get(ctx, dataTypePrefix+uploadID)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			slog.Warn("redis staging read failed", "key", dataTypePrefix+uploadID, "error", err)
		}
		return "", false
	}
	return schema.DataType(raw), true
}

func (s *Staging) Delete(ctx context.Context, uploadID string) {
	err := s.client.Del(ctx,
		progressPrefix+uploadID,
		resultPrefix+uploadID,
		dataTypePrefix+uploadID,
		commitPrefix+uploadID,
	)
	if err != nil {
		slog.Warn("redis staging delete failed", "upload_id", uploadID, "error", err)
	}
}

func (s *Staging) ClaimCommit(ctx context.Context, uploadID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, commitPrefix+uploadID, time.Now().UTC().Format(time.RFC3339), s.resultTTL)
	if err != nil {
		return false, fmt.Errorf("claim commit: %w", err)
	}
	return ok, nil
}

func (s *Staging) ReleaseCommit(ctx context.Context, uploadID string) {
	if err := s.client.Del(ctx, commitPrefix+uploadID); err != nil {
		slog.Warn("redis release commit failed", "upload_id", uploadID, "error", err)
	}
}

func (s *Staging) put(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("redis staging marshal failed", "key", key, "error", err)
		return
	}
	if err := s.client.Set(ctx, key, data, ttl); err != nil {
		slog.Warn("redis staging write failed", "key", key, "error", err)
	}
}

func (s *Staging) get(ctx context.Context, key string, dst any) bool {
	raw, err := s.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			slog.Warn("redis staging read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		slog.Warn("redis staging decode failed", "key", key, "error", err)
		return false
	}
	return true
}
