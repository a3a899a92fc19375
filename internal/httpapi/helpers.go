package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/queue"
)

// parseRFC3339 parses a client-supplied timestamp string.
func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// encodeCursor/decodeCursor make a domain.Cursor opaque to API callers, the
// way the teacher's dashboard list endpoints hand back a base64 page token
// instead of raw sort keys.
func encodeCursor(c domain.Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (*domain.Cursor, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, false
	}
	var c domain.Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false
	}
	return &c, true
}

// enqueueOptsFor builds the broker options a queue's own priority implies.
func enqueueOptsFor(q domain.Queue) queue.EnqueueOptions {
	return queue.EnqueueOptions{Priority: q.Priority}
}
