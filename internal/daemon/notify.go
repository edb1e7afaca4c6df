package daemon

import (
	"context"
	"log/slog"

	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/notifications"
	"reelvault/internal/transcode"
)

// outcomeNotifier returns a scheduler hook that publishes finished jobs.
// Delivery runs off the job goroutine so a slow ntfy server never holds a slot.
func outcomeNotifier(svc notifications.Service, store *metadata.Store, logger *slog.Logger) func(transcode.Job) {
	if svc == nil {
		return nil
	}
	return func(job transcode.Job) {
		var event notifications.Event
		switch job.Status {
		case transcode.StatusComplete:
			event = notifications.EventTranscodeCompleted
		case transcode.StatusFailed:
			event = notifications.EventTranscodeFailed
		default:
			return
		}
		payload := notifications.Payload{
			"id":      job.FileID,
			"encoder": string(job.EncoderKind),
			"reason":  job.Reason,
		}
		if !job.StartedAt.IsZero() {
			payload["elapsed"] = job.FinishedAt.Sub(job.StartedAt)
		}
		if rec, err := store.Get(job.FileID); err == nil {
			payload["name"] = rec.DisplayName
		}
		go func() {
			if err := svc.Publish(context.Background(), event, payload); err != nil {
				logging.WarnWithContext(logger, "notification delivery failed", "notification_failed",
					logging.String(logging.FieldFileID, job.FileID),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
					logging.String(logging.FieldImpact, "the transcode outcome was not announced"),
				)
			}
		}()
	}
}
