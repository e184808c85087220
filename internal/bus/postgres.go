package bus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = time.Second
	defaultClaimBatch   = 32
	redeliveryBackoff   = 30 * time.Second
)

// PostgresBus stores events in a `bus_events` table and scheduled deliveries
// in a `bus_scheduled_events` due-time table. Run polls both: due scheduled
// rows are moved onto the event table, claimed events are dispatched to the
// local handlers and deleted on success or pushed back with a backoff on
// failure. Claiming uses FOR UPDATE SKIP LOCKED so any number of worker
// processes can share the tables.
type PostgresBus struct {
	pool         *pgxpool.Pool
	logger       zerolog.Logger
	pollInterval time.Duration

	handlers map[string][]Handler
	topics   []string
}

// NewPostgresBus constructs a bus over an existing pool. Subscribe all
// handlers before calling Run.
func NewPostgresBus(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresBus {
	return &PostgresBus{
		pool:         pool,
		logger:       logger,
		pollInterval: defaultPollInterval,
		handlers:     make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a topic. Not safe to call once Run has
// started.
func (b *PostgresBus) Subscribe(topic string, h Handler) {
	if len(b.handlers[topic]) == 0 {
		b.topics = append(b.topics, topic)
	}
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish appends the event to the topic table for pickup by a delivery loop.
func (b *PostgresBus) Publish(ctx context.Context, topic string, event any) error {
	payload, err := encode(topic, event)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
INSERT INTO bus_events (id, topic, payload, published_at, available_at)
VALUES ($1, $2, $3, NOW(), NOW());
`, uuid.New(), topic, payload)
	return err
}

// Schedule inserts a row into the due-time table.
func (b *PostgresBus) Schedule(ctx context.Context, delay time.Duration, topic string, event any) (uuid.UUID, error) {
	payload, err := encode(topic, event)
	if err != nil {
		return uuid.Nil, err
	}
	token := uuid.New()
	_, err = b.pool.Exec(ctx, `
INSERT INTO bus_scheduled_events (token, topic, payload, due_at)
VALUES ($1, $2, $3, NOW() + make_interval(secs => $4));
`, token, topic, payload, delay.Seconds())
	if err != nil {
		return uuid.Nil, err
	}
	return token, nil
}

// Cancel removes a scheduled row. A row already moved to the event table is
// beyond cancellation; consumers drop the late message instead.
func (b *PostgresBus) Cancel(ctx context.Context, token uuid.UUID) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM bus_scheduled_events WHERE token = $1;`, token)
	return err
}

// Run drives scheduled promotion and delivery until the context is cancelled.
func (b *PostgresBus) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := b.promoteDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error().Err(err).Msg("bus: promote scheduled events failed")
		}
		for {
			n, err := b.deliverBatch(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					b.logger.Error().Err(err).Msg("bus: delivery batch failed")
				}
				break
			}
			if n == 0 {
				break
			}
		}
	}
}

// promoteDue moves scheduled rows whose due time has passed onto the event
// table in a single transaction, so a cancel either removes the row or loses.
func (b *PostgresBus) promoteDue(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
WITH due AS (
    DELETE FROM bus_scheduled_events
    WHERE due_at <= NOW()
    RETURNING token, topic, payload
)
INSERT INTO bus_events (id, topic, payload, published_at, available_at)
SELECT token, topic, payload, NOW(), NOW() FROM due;
`)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// deliverBatch claims up to claimBatch events for the subscribed topics and
// dispatches them. Returns the number of claimed rows.
func (b *PostgresBus) deliverBatch(ctx context.Context) (int, error) {
	if len(b.topics) == 0 {
		return 0, nil
	}
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT id, topic, payload, published_at
FROM bus_events
WHERE topic = ANY($1) AND available_at <= NOW()
ORDER BY published_at
LIMIT $2
FOR UPDATE SKIP LOCKED;
`, b.topics, defaultClaimBatch)
	if err != nil {
		return 0, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return 0, err
	}

	var done, failed []uuid.UUID
	for _, msg := range msgs {
		if err := b.handle(ctx, msg); err != nil {
			b.logger.Error().Err(err).Str("topic", msg.Topic).Stringer("event_id", msg.ID).
				Msg("bus: handler failed, will redeliver")
			failed = append(failed, msg.ID)
			continue
		}
		done = append(done, msg.ID)
	}
	if len(done) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM bus_events WHERE id = ANY($1);`, done); err != nil {
			return 0, err
		}
	}
	if len(failed) > 0 {
		if _, err := tx.Exec(ctx, `
UPDATE bus_events SET attempts = attempts + 1, available_at = NOW() + make_interval(secs => $2)
WHERE id = ANY($1);
`, failed, redeliveryBackoff.Seconds()); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

func (b *PostgresBus) handle(ctx context.Context, msg Message) error {
	for _, h := range b.handlers[msg.Topic] {
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &msg.PublishedAt); err != nil {
			return nil, err
		}
		msg.Payload = append([]byte(nil), msg.Payload...)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

var _ Bus = (*PostgresBus)(nil)
