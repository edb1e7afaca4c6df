// Package notifications delivers transcode outcomes to an ntfy topic.
//
// The daemon publishes an event whenever a transcode job fails, and also on
// completion when notifications.notify_success is set. When no topic is
// configured NewService returns a no-op so callers never branch on
// configuration.
package notifications
