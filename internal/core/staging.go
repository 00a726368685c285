package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/livpulse/internal/schema"
)

// Default retention for staged entries.
const (
	DefaultProgressTTL = time.Hour
	DefaultResultTTL   = 24 * time.Hour
)

// Staging holds per-upload state between submission and commit. Every key
// is scoped to one upload id.
//
// Implementations degrade instead of failing: reads of an unreachable store
// report absent and writes are logged and dropped. ClaimCommit is the only
// call that reports store errors, since a commit must not proceed without it.
type Staging interface {
	PutProgress(ctx context.Context, uploadID string, p Progress)
	GetProgress(ctx context.Context, uploadID string) (Progress, bool)

	PutResult(ctx context.Context, uploadID string, staged StagedUpload)
	GetResult(ctx context.Context, uploadID string) (StagedUpload, bool)

	PutDataType(ctx context.Context, uploadID string, dt schema.DataType)
	GetDataType(ctx context.Context, uploadID string) (schema.DataType, bool)

	// Delete removes every namespace for the upload, including a commit claim.
	Delete(ctx context.Context, uploadID string)

	// ClaimCommit marks the upload as being committed. It reports false when
	// a claim already exists.
	ClaimCommit(ctx context.Context, uploadID string) (bool, error)
	ReleaseCommit(ctx context.Context, uploadID string)
}

// NopStaging stores nothing. Every read reports absent and every claim succeeds.
type NopStaging struct{}

var _ Staging = NopStaging{}

func (NopStaging) PutProgress(context.Context, string, Progress) {}

func (NopStaging) GetProgress(context.Context, string) (Progress, bool) { return Progress{}, false }

func (NopStaging) PutResult(context.Context, string, StagedUpload) {}

func (NopStaging) GetResult(context.Context, string) (StagedUpload, bool) {
	return StagedUpload{}, false
}

func (NopStaging) PutDataType(context.Context, string, schema.DataType) {}

func (NopStaging) GetDataType(context.Context, string) (schema.DataType, bool) { return "", false }

func (NopStaging) Delete(context.Context, string) {}

func (NopStaging) ClaimCommit(context.Context, string) (bool, error) { return true, nil }

func (NopStaging) ReleaseCommit(context.Context, string) {}
