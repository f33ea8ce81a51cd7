package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"event-ticket/models"

	"github.com/redis/go-redis/v9"
)

const (
	allEventsKey      = "events:all"
	defaultMaxRetries = 8
)

func eventKey(id string) string        { return fmt.Sprintf("event:%s", id) }
func eventTicketsKey(id string) string { return fmt.Sprintf("event:%s:tickets", id) }
func ticketKey(id string) string       { return fmt.Sprintf("ticket:%s", id) }
func userTicketsKey(id string) string  { return fmt.Sprintf("user:%s:tickets", id) }
func issueKey(key string) string       { return fmt.Sprintf("issue:%s", key) }

// codeKey hashes the code, which is an arbitrary length JSON document, into a
// fixed size key.
func codeKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return "ticket:code:" + hex.EncodeToString(sum[:])
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore persists events and tickets as JSON strings. Conditional
// operations WATCH the keys they read and commit with MULTI/EXEC; an aborted
// EXEC re-runs the whole read-modify-write.
type RedisStore struct {
	Redis      *redis.Client
	maxRetries int
}

func NewRedisStore(redisClient *redis.Client, maxRetries int) *RedisStore {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &RedisStore{Redis: redisClient, maxRetries: maxRetries}
}

func (s *RedisStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return getEvent(ctx, s.Redis, id)
}

func (s *RedisStore) PutEvent(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		return errors.New("store: event without id")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, eventKey(event.ID), string(data), 0)
		pipe.SAdd(ctx, allEventsKey, event.ID)
		return nil
	})
	return err
}

func (s *RedisStore) ListEvents(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	ids, err := s.Redis.SMembers(ctx, allEventsKey).Result()
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(ids))
	if len(ids) == 0 {
		return events, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = eventKey(id)
	}
	values, err := s.Redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e models.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			slog.Error("Skipping undecodable event", "error", err, "event_id", ids[i])
			continue
		}
		if filter.Match(e) {
			events = append(events, e)
		}
	}
	filter.Sort(events)
	return events, nil
}

func (s *RedisStore) UpdateEvent(ctx context.Context, id string, fn UpdateFunc) (*models.Event, error) {
	key := eventKey(id)
	var updated *models.Event

	err := s.transact(ctx, func(tx *redis.Tx) error {
		current, err := getEvent(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := fn(*current)
		if err != nil {
			return err
		}
		if next.ID != id {
			return fmt.Errorf("store: update changed event id %s to %s", id, next.ID)
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(data), 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &next
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RedisStore) Issue(ctx context.Context, eventID, idempotencyKey string, fn IssueFunc) (*models.Ticket, bool, error) {
	evKey := eventKey(eventID)
	watched := []string{evKey}
	idKey := ""
	if idempotencyKey != "" {
		idKey = issueKey(idempotencyKey)
		watched = append(watched, idKey)
	}

	var issued *models.Ticket
	replayed := false

	err := s.transact(ctx, func(tx *redis.Tx) error {
		issued, replayed = nil, false

		if idKey != "" {
			ticketID, err := tx.Get(ctx, idKey).Result()
			switch {
			case err == nil:
				t, err := getTicket(ctx, tx, ticketID)
				if errors.Is(err, ErrNotFound) {
					return fmt.Errorf("%w: %s points at missing ticket %s", ErrDanglingIssue, idKey, ticketID)
				}
				if err != nil {
					return err
				}
				issued, replayed = t, true
				return nil
			case !errors.Is(err, redis.Nil):
				return err
			}
		}

		current, err := getEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		nextEvent, ticket, err := fn(*current)
		if err != nil {
			return err
		}
		if nextEvent.ID != eventID || ticket.EventID != eventID {
			return fmt.Errorf("store: issue for %s produced event %s ticket for %s", eventID, nextEvent.ID, ticket.EventID)
		}

		eventData, err := json.Marshal(nextEvent)
		if err != nil {
			return err
		}
		ticketData, err := json.Marshal(ticket)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, evKey, string(eventData), 0)
			pipe.Set(ctx, ticketKey(ticket.ID), string(ticketData), 0)
			pipe.Set(ctx, codeKey(ticket.QRCodeData), ticket.ID, 0)
			pipe.SAdd(ctx, eventTicketsKey(eventID), ticket.ID)
			pipe.SAdd(ctx, userTicketsKey(ticket.UserID), ticket.ID)
			if idKey != "" {
				pipe.Set(ctx, idKey, ticket.ID, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		issued = &ticket
		return nil
	}, watched...)
	if err != nil {
		return nil, false, err
	}
	return issued, replayed, nil
}

func (s *RedisStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	return getTicket(ctx, s.Redis, id)
}

func (s *RedisStore) PutTicket(ctx context.Context, ticket *models.Ticket) error {
	if ticket.ID == "" || ticket.QRCodeData == "" {
		return errors.New("store: ticket without id or code")
	}
	data, err := json.Marshal(ticket)
	if err != nil {
		return err
	}

	_, err = s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ticketKey(ticket.ID), string(data), 0)
		pipe.Set(ctx, codeKey(ticket.QRCodeData), ticket.ID, 0)
		pipe.SAdd(ctx, eventTicketsKey(ticket.EventID), ticket.ID)
		pipe.SAdd(ctx, userTicketsKey(ticket.UserID), ticket.ID)
		return nil
	})
	return err
}

func (s *RedisStore) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	id, err := s.Redis.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return getTicket(ctx, s.Redis, id)
}

func (s *RedisStore) Redeem(ctx context.Context, code string, fn RedeemFunc) (*models.Ticket, error) {
	// The code to id mapping never changes once written, so only the ticket
	// itself needs to be watched.
	id, err := s.Redis.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	key := ticketKey(id)
	var redeemed *models.Ticket

	err = s.transact(ctx, func(tx *redis.Tx) error {
		current, err := getTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := fn(*current)
		if err != nil {
			return err
		}
		if next.ID != id || next.QRCodeData != code {
			return fmt.Errorf("store: redeem changed identity of ticket %s", id)
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(data), 0)
			return nil
		})
		if err != nil {
			return err
		}
		redeemed = &next
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}

func (s *RedisStore) ListTicketsForEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	return s.listTickets(ctx, eventTicketsKey(eventID))
}

func (s *RedisStore) ListTicketsForUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	return s.listTickets(ctx, userTicketsKey(userID))
}

func (s *RedisStore) listTickets(ctx context.Context, setKey string) ([]models.Ticket, error) {
	ids, err := s.Redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}

	tickets := make([]models.Ticket, 0, len(ids))
	if len(ids) == 0 {
		return tickets, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ticketKey(id)
	}
	values, err := s.Redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			slog.Warn("Ticket indexed but missing", "key", setKey, "ticket_id", ids[i])
			continue
		}
		var t models.Ticket
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			// Skipping here would undercount stats without anyone noticing.
			return nil, fmt.Errorf("store: decode ticket %s: %w", ids[i], err)
		}
		tickets = append(tickets, t)
	}
	sortTickets(tickets)
	return tickets, nil
}

// transact runs fn under WATCH on keys, retrying while EXEC is aborted by a
// concurrent write.
func (s *RedisStore) transact(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.Redis.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		slog.Debug("Transaction conflict, retrying", "keys", keys, "attempt", attempt+1)
	}
	return fmt.Errorf("%w after %d attempts on %v", ErrConflict, s.maxRetries, keys)
}

func getEvent(ctx context.Context, r getter, id string) (*models.Event, error) {
	raw, err := r.Get(ctx, eventKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var event models.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("store: decode event %s: %w", id, err)
	}
	return &event, nil
}

func getTicket(ctx context.Context, r getter, id string) (*models.Ticket, error) {
	raw, err := r.Get(ctx, ticketKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ticket models.Ticket
	if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
		return nil, fmt.Errorf("store: decode ticket %s: %w", id, err)
	}
	return &ticket, nil
}
