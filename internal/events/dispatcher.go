package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one undelivered outbox row.
type Event struct {
	ID        uuid.UUID
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Publisher hands a committed domain event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

const (
	defaultBatchSize    = 50
	defaultPollInterval = 2 * time.Second
)

// Dispatcher drains the transactional outbox. Rows are claimed with
// SKIP LOCKED so several dispatcher instances can run side by side, and a
// row is only marked delivered after the publisher accepts it: delivery is
// at-least-once and consumers must dedupe on the event id.
type Dispatcher struct {
	pool         *pgxpool.Pool
	publisher    Publisher
	batchSize    int
	pollInterval time.Duration
}

func NewDispatcher(pool *pgxpool.Pool, publisher Publisher) *Dispatcher {
	return &Dispatcher{
		pool:         pool,
		publisher:    publisher,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.DispatchPending(ctx); err != nil {
				log.Printf("outbox dispatch: %v", err)
			} else if n > 0 {
				log.Printf("outbox dispatch: delivered %d event(s)", n)
			}
		}
	}
}

// DispatchPending delivers one batch and reports how many events went out.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, payload, created_at
		FROM outbox_events
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}

	var batch []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read outbox rows: %w", err)
	}

	delivered := 0
	for _, ev := range batch {
		if err := d.publisher.Publish(ctx, ev); err != nil {
			// Leave the remaining rows undelivered; the next poll retries.
			log.Printf("publish event %s (%s): %v", ev.ID, ev.Type, err)
			break
		}
		if _, err := tx.Exec(ctx,
			"UPDATE outbox_events SET delivered_at = NOW() WHERE id = $1", ev.ID,
		); err != nil {
			return 0, fmt.Errorf("mark event %s delivered: %w", ev.ID, err)
		}
		delivered++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return delivered, nil
}
