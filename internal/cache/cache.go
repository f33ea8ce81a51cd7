// Package cache is a SQLite mirror of events and tickets for offline reads.
// It is never authoritative: callers write to it only after the store write
// succeeded, and treat every error from it as a miss.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"event-ticket/internal/store"
	"event-ticket/models"

	"github.com/pocketbase/dbx"
	_ "modernc.org/sqlite"
)

// ErrMiss is returned for rows that are absent or older than the max age.
var ErrMiss = errors.New("cache: miss")

// DefaultMaxAge is how long a mirrored row answers point reads before the
// store is asked again.
const DefaultMaxAge = 30 * time.Second

// schemaVersion is kept in PRAGMA user_version. The mirror holds nothing the
// store does not, so a database on another version is dropped and rebuilt.
const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id           TEXT PRIMARY KEY,
    organizer_id TEXT NOT NULL,
    is_public    INTEGER NOT NULL DEFAULT 0,
    date         TEXT NOT NULL,
    category     TEXT NOT NULL DEFAULT '',
    search       TEXT NOT NULL DEFAULT '',
    data         TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    cached_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tickets (
    id             TEXT PRIMARY KEY,
    ticket_type_id TEXT NOT NULL,
    event_id       TEXT NOT NULL,
    user_id        TEXT NOT NULL,
    qr_code_data   TEXT NOT NULL UNIQUE,
    is_scanned     INTEGER NOT NULL DEFAULT 0,
    scanned_at     TEXT,
    purchased_at   TEXT NOT NULL,
    cached_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tickets_event ON tickets(event_id);
CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id);
CREATE INDEX IF NOT EXISTS idx_events_date ON events(date)
`

type Cache struct {
	db     *dbx.DB
	now    func() time.Time
	maxAge time.Duration
}

type Option func(*Cache)

// WithMaxAge sets how long a row answers point reads. Zero or less keeps
// rows fresh until they are overwritten.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type eventRow struct {
	ID       string `db:"id"`
	Data     string `db:"data"`
	CachedAt string `db:"cached_at"`
}

type ticketRow struct {
	ID           string         `db:"id"`
	TicketTypeID string         `db:"ticket_type_id"`
	EventID      string         `db:"event_id"`
	UserID       string         `db:"user_id"`
	QRCodeData   string         `db:"qr_code_data"`
	IsScanned    bool           `db:"is_scanned"`
	ScannedAt    sql.NullString `db:"scanned_at"`
	PurchasedAt  string         `db:"purchased_at"`
	CachedAt     string         `db:"cached_at"`
}

var ticketColumns = []string{"id", "ticket_type_id", "event_id", "user_id", "qr_code_data", "is_scanned", "scanned_at", "purchased_at", "cached_at"}

// Open opens or creates the cache database at dsn and applies the schema.
// ":memory:" gives a private in-process database.
func Open(ctx context.Context, dsn string, opts ...Option) (*Cache, error) {
	db, err := dbx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		// Every pooled connection would otherwise see its own empty database.
		db.DB().SetMaxOpenConns(1)
	}

	c := &Cache{db: db, now: time.Now, maxAge: DefaultMaxAge}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}

	slog.Info("Local cache ready", "dsn", dsn, "max_age", c.maxAge)
	return c, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) migrate(ctx context.Context) error {
	var version int
	if err := c.db.NewQuery("PRAGMA user_version").WithContext(ctx).Row(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == schemaVersion {
		return c.apply(ctx, schema)
	}

	if version != 0 {
		slog.Info("Rebuilding local cache", "from_version", version, "to_version", schemaVersion)
	}
	if err := c.apply(ctx, "DROP TABLE IF EXISTS tickets; DROP TABLE IF EXISTS events"); err != nil {
		return err
	}
	if err := c.apply(ctx, schema); err != nil {
		return err
	}
	return c.apply(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
}

func (c *Cache) apply(ctx context.Context, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := c.db.NewQuery(stmt).WithContext(ctx).Execute(); err != nil {
			return fmt.Errorf("statement failed: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

// PutEvent mirrors event unless the cached copy carries a later UpdatedAt,
// so a late write of an older copy cannot roll the mirror back.
func (c *Cache) PutEvent(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = c.db.NewQuery(`
		INSERT INTO events (id, organizer_id, is_public, date, category, search, data, updated_at, cached_at)
		VALUES ({:id}, {:organizer}, {:public}, {:date}, {:category}, {:search}, {:data}, {:updated}, {:cached})
		ON CONFLICT(id) DO UPDATE SET
			organizer_id = excluded.organizer_id,
			is_public = excluded.is_public,
			date = excluded.date,
			category = excluded.category,
			search = excluded.search,
			data = excluded.data,
			updated_at = excluded.updated_at,
			cached_at = excluded.cached_at
		WHERE excluded.updated_at >= events.updated_at`).
		Bind(dbx.Params{
			"id":        event.ID,
			"organizer": event.OrganizerID,
			"public":    event.IsPublic,
			"date":      formatTime(event.Date),
			"category":  strings.ToLower(strings.TrimSpace(event.Category)),
			"search":    store.SearchText(event),
			"data":      string(data),
			"updated":   formatTime(event.UpdatedAt),
			"cached":    formatTime(c.now()),
		}).
		WithContext(ctx).
		Execute()
	return err
}

func (c *Cache) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var row eventRow
	err := c.db.Select("id", "data", "cached_at").
		From("events").
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	if c.expired(row.CachedAt) {
		return nil, ErrMiss
	}

	event, err := row.toEvent()
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListEvents returns cached events matching filter in the order the store
// lists them. Listings ignore the max age.
func (c *Cache) ListEvents(ctx context.Context, filter store.EventFilter) ([]models.Event, error) {
	var conds []dbx.Expression
	if filter.PublicOnly {
		conds = append(conds, dbx.HashExp{"is_public": true})
	}
	if filter.OrganizerID != "" {
		conds = append(conds, dbx.HashExp{"organizer_id": filter.OrganizerID})
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		conds = append(conds, dbx.NewExp("instr(search, {:q}) > 0", dbx.Params{"q": strings.ToLower(q)}))
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		conds = append(conds, dbx.HashExp{"category": strings.ToLower(category)})
	}
	order := "date DESC"
	if !filter.From.IsZero() {
		conds = append(conds, dbx.NewExp("date >= {:from}", dbx.Params{"from": formatTime(filter.From)}))
		order = "date ASC"
	}

	var rows []eventRow
	err := c.db.Select("id", "data", "cached_at").
		From("events").
		Where(dbx.And(conds...)).
		OrderBy(order, "id ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		event, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// PutTicket mirrors ticket. A redemption is never undone by a later write of
// an unscanned copy, and the first recorded scan time is kept.
func (c *Cache) PutTicket(ctx context.Context, ticket models.Ticket) error {
	var scannedAt any
	if ticket.ScannedAt != nil {
		scannedAt = formatTime(*ticket.ScannedAt)
	}

	_, err := c.db.NewQuery(`
		INSERT INTO tickets (id, ticket_type_id, event_id, user_id, qr_code_data, is_scanned, scanned_at, purchased_at, cached_at)
		VALUES ({:id}, {:type}, {:event}, {:user}, {:code}, {:scanned}, {:scanned_at}, {:purchased}, {:cached})
		ON CONFLICT(id) DO UPDATE SET
			is_scanned = MAX(tickets.is_scanned, excluded.is_scanned),
			scanned_at = COALESCE(tickets.scanned_at, excluded.scanned_at),
			cached_at = excluded.cached_at`).
		Bind(dbx.Params{
			"id":         ticket.ID,
			"type":       ticket.TicketTypeID,
			"event":      ticket.EventID,
			"user":       ticket.UserID,
			"code":       ticket.QRCodeData,
			"scanned":    ticket.IsScanned,
			"scanned_at": scannedAt,
			"purchased":  formatTime(ticket.PurchasedAt),
			"cached":     formatTime(c.now()),
		}).
		WithContext(ctx).
		Execute()
	return err
}

func (c *Cache) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	return c.oneTicket(ctx, dbx.HashExp{"id": id})
}

func (c *Cache) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	return c.oneTicket(ctx, dbx.HashExp{"qr_code_data": code})
}

func (c *Cache) ListTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	return c.listTickets(ctx, dbx.HashExp{"user_id": userID})
}

func (c *Cache) ListTicketsByEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	return c.listTickets(ctx, dbx.HashExp{"event_id": eventID})
}

// CountScanned is the number of cached tickets for the event that were
// scanned. It can lag the store.
func (c *Cache) CountScanned(ctx context.Context, eventID string) (int, error) {
	var n int
	err := c.db.NewQuery("SELECT COUNT(*) FROM tickets WHERE event_id = {:event} AND is_scanned = 1").
		Bind(dbx.Params{"event": eventID}).
		WithContext(ctx).
		Row(&n)
	return n, err
}

func (c *Cache) CountTotal(ctx context.Context, eventID string) (int, error) {
	var n int
	err := c.db.NewQuery("SELECT COUNT(*) FROM tickets WHERE event_id = {:event}").
		Bind(dbx.Params{"event": eventID}).
		WithContext(ctx).
		Row(&n)
	return n, err
}

// CountByType returns cached ticket counts per ticket type id of the event.
func (c *Cache) CountByType(ctx context.Context, eventID string) (map[string]int, error) {
	var rows []struct {
		TicketTypeID string `db:"ticket_type_id"`
		Count        int    `db:"n"`
	}
	err := c.db.NewQuery(`
		SELECT ticket_type_id, COUNT(*) AS n
		FROM tickets
		WHERE event_id = {:event}
		GROUP BY ticket_type_id`).
		Bind(dbx.Params{"event": eventID}).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.TicketTypeID] = row.Count
	}
	return counts, nil
}

// Clear drops everything, e.g. on sign out.
func (c *Cache) Clear(ctx context.Context) error {
	return c.db.Transactional(func(tx *dbx.Tx) error {
		if _, err := tx.NewQuery("DELETE FROM tickets").WithContext(ctx).Execute(); err != nil {
			return err
		}
		_, err := tx.NewQuery("DELETE FROM events").WithContext(ctx).Execute()
		return err
	})
}

func (c *Cache) oneTicket(ctx context.Context, where dbx.HashExp) (*models.Ticket, error) {
	var row ticketRow
	err := c.db.Select(ticketColumns...).
		From("tickets").
		Where(where).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	if c.expired(row.CachedAt) {
		return nil, ErrMiss
	}

	ticket, err := row.toTicket()
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (c *Cache) listTickets(ctx context.Context, where dbx.HashExp) ([]models.Ticket, error) {
	var rows []ticketRow
	err := c.db.Select(ticketColumns...).
		From("tickets").
		Where(where).
		OrderBy("purchased_at ASC", "id ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}

	tickets := make([]models.Ticket, 0, len(rows))
	for _, row := range rows {
		ticket, err := row.toTicket()
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// expired reports whether a row cached at cachedAt is past the max age.
// Unreadable timestamps count as expired.
func (c *Cache) expired(cachedAt string) bool {
	if c.maxAge <= 0 {
		return false
	}
	at, err := parseTime(cachedAt)
	if err != nil {
		return true
	}
	return c.now().Sub(at) > c.maxAge
}

func (r eventRow) toEvent() (models.Event, error) {
	var event models.Event
	if err := json.Unmarshal([]byte(r.Data), &event); err != nil {
		return models.Event{}, fmt.Errorf("decode cached event %s: %w", r.ID, err)
	}
	return event, nil
}

func (r ticketRow) toTicket() (models.Ticket, error) {
	purchasedAt, err := parseTime(r.PurchasedAt)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("cached ticket %s: %w", r.ID, err)
	}

	ticket := models.Ticket{
		ID:           r.ID,
		TicketTypeID: r.TicketTypeID,
		EventID:      r.EventID,
		UserID:       r.UserID,
		QRCodeData:   r.QRCodeData,
		IsScanned:    r.IsScanned,
		PurchasedAt:  purchasedAt,
	}
	if r.ScannedAt.Valid {
		at, err := parseTime(r.ScannedAt.String)
		if err != nil {
			return models.Ticket{}, fmt.Errorf("cached ticket %s: %w", r.ID, err)
		}
		ticket.ScannedAt = &at
	}
	return ticket, nil
}

// Times are stored as fixed width UTC text so that they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
