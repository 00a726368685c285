package core

import (
	"context"
	"log/slog"
	"time"
)

// ProgressEvent is the event name pushed to clients for progress updates.
const ProgressEvent = "csv:progress"

// ProgressMessage is the payload pushed to clients.
type ProgressMessage struct {
	UploadID  string    `json:"uploadId"`
	Progress  Progress  `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier pushes an event to every live connection of one user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, event string, payload any) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, int64, string, any) error { return nil }

// ProgressReporter persists progress snapshots and pushes them to the
// owning user. Report never fails; delivery problems are logged.
type ProgressReporter struct {
	staging  Staging
	notifier Notifier
	now      func() time.Time
}

// NewProgressReporter returns a reporter. Nil arguments fall back to no-ops.
func NewProgressReporter(staging Staging, notifier Notifier) *ProgressReporter {
	if staging == nil {
		staging = NopStaging{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ProgressReporter{staging: staging, notifier: notifier, now: time.Now}
}

// Report stores p for uploadID and notifies userID.
func (r *ProgressReporter) Report(ctx context.Context, uploadID string, userID int64, p Progress) {
	if p.Percentage < 0 {
		p.Percentage = 0
	} else if p.Percentage > 100 {
		p.Percentage = 100
	}

	r.staging.PutProgress(ctx, uploadID, p)

	msg := ProgressMessage{UploadID: uploadID, Progress: p, Timestamp: r.now().UTC()}
	if err := r.notifier.Notify(ctx, userID, ProgressEvent, msg); err != nil {
		slog.Warn("progress notification failed",
			"upload_id", uploadID,
			"user_id", userID,
			"stage", p.Stage,
			"error", err,
		)
	}
}

// Fail reports stage failed at 0%.
func (r *ProgressReporter) Fail(ctx context.Context, uploadID string, userID int64, message string) {
	r.Report(ctx, uploadID, userID, Progress{Stage: StageFailed, Percentage: 0, Message: message})
}

// Func returns a ProgressFunc bound to one upload.
func (r *ProgressReporter) Func(ctx context.Context, uploadID string, userID int64) ProgressFunc {
	return func(p Progress) {
		r.Report(ctx, uploadID, userID, p)
	}
}
