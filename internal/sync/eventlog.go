package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/progress"
)

// Event is one row of the append-only progress log.
type Event struct {
	Seq       int64           `json:"seq"`
	LearnerID string          `json:"learner_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

type EventRepo struct {
	db        *sql.DB
	log       *slog.Logger
	listeners []func(context.Context, Event)
}

func NewEventRepo(db *sql.DB, log *slog.Logger) *EventRepo {
	if log == nil {
		log = slog.Default()
	}
	return &EventRepo{db: db, log: log}
}

// Notify registers fn to receive every event once it is stored, seq set.
// Call it before the repo starts publishing.
func (r *EventRepo) Notify(fn func(context.Context, Event)) {
	r.listeners = append(r.listeners, fn)
}

// Append stores e and returns it with its seq and timestamp filled in.
func (r *EventRepo) Append(ctx context.Context, e Event) (Event, error) {
	e.CreatedAt = time.Now().Unix()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO event_log (learner_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5) RETURNING seq`,
		e.LearnerID, e.Type, e.Key, string(e.Data), e.CreatedAt).Scan(&e.Seq)
	return e, err
}

// Publish records a progress event. Failures are logged; the progress write
// it describes has already been stored.
func (r *EventRepo) Publish(ctx context.Context, e progress.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		r.log.Error("encode progress event", "type", e.Type, "error", err)
		return
	}
	key := e.ModuleID
	if e.ComponentID != "" {
		key += ":" + e.ComponentID
	}
	stored, err := r.Append(ctx, Event{LearnerID: e.LearnerID, Type: string(e.Type), Key: key, Data: data})
	if err != nil {
		r.log.Error("append progress event", "type", e.Type, "learner", e.LearnerID, "error", err)
		return
	}
	for _, fn := range r.listeners {
		fn(ctx, stored)
	}
}

// Since returns a learner's events with seq greater than after, oldest first.
func (r *EventRepo) Since(ctx context.Context, learner string, after int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, learner_id, typ, key, data, created_at FROM event_log
		 WHERE learner_id=$1 AND seq > $2 ORDER BY seq LIMIT $3`,
		learner, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e    Event
			data string
		)
		if err := rows.Scan(&e.Seq, &e.LearnerID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
