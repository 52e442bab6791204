package notify

import (
	"context"
	"encoding/json"
	"log"

	"growhub/internal/db"
)

// Sink writes notifications for the facility operators. Fire-and-forget:
// every failure is swallowed after logging, a broken sink must never fail an
// execution.
type Sink struct {
	db *db.DB
}

// NewSink creates a notification sink over the database.
func NewSink(dbConn *db.DB) *Sink {
	return &Sink{db: dbConn}
}

// Create records one notification.
func (s *Sink) Create(ctx context.Context, notifType, priority, title, message string, metadata map[string]interface{}) {
	var meta json.RawMessage
	if metadata != nil {
		meta, _ = json.Marshal(metadata)
	}
	if err := s.db.InsertNotification(ctx, notifType, priority, title, message, meta); err != nil {
		log.Printf("NOTIFY: Failed to create notification %q: %v", title, err)
	}
}
