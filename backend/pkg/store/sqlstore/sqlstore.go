// Package sqlstore implements the ledger store on database/sql for Postgres
// and SQLite. Queries are written with '?' placeholders and rebound for
// Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
)

//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"

type Store struct {
	db       *sql.DB
	postgres bool
}

// New wraps db. driver is the database/sql driver name it was opened with.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, postgres: driver == "postgres" || driver == ""}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

const (
	refundOnceIndex  = "uq_transactions_refund_once"
	replacementIndex = "uq_cards_replaces"
)

// violates reports whether err is a unique violation of the named index,
// which SQLite reports by its column instead.
func violates(err error, index, column string) bool {
	if !isUniqueViolation(err) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint == index
	}
	return strings.Contains(err.Error(), column)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNull(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

const cardColumns = `id, code_uid, numero_serie, type, balance, max_balance,
	daily_limit, monthly_limit, daily_used, monthly_used, daily_window_start, monthly_window_start,
	status, block_reason, owner_kind, owner_id, expiration_date, transaction_count, version,
	pin_hash, replaces_card_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (*card.Card, error) {
	var (
		c                 card.Card
		typ, status, kind string
		dws, mws          sql.NullTime
	)
	err := row.Scan(&c.ID, &c.CodeUID, &c.NumeroSerie, &typ, &c.Balance, &c.MaxBalance,
		&c.Limits.DailyLimit, &c.Limits.MonthlyLimit, &c.Limits.DailyUsed, &c.Limits.MonthlyUsed, &dws, &mws,
		&status, &c.BlockReason, &kind, &c.Owner.ID, &c.ExpirationDate, &c.TransactionCount, &c.Version,
		&c.PINHash, &c.ReplacesCardID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = card.Type(typ)
	c.Status = card.Status(status)
	c.Owner.Kind = card.OwnerKind(kind)
	c.Limits.DailyWindowStart = fromNull(dws)
	c.Limits.MonthlyWindowStart = fromNull(mws)
	c.ExpirationDate = c.ExpirationDate.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *Store) GetCard(ctx context.Context, id string) (*card.Card, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+cardColumns+` FROM cards WHERE id = ?`), id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrCardNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card %s: %w", id, err)
	}
	return c, nil
}

// GetCardByUID looks a card up by the UID read from its RFID tag.
func (s *Store) GetCardByUID(ctx context.Context, uid string) (*card.Card, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+cardColumns+` FROM cards WHERE code_uid = ?`), uid)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: uid %s", ledger.ErrCardNotFound, uid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card by uid %s: %w", uid, err)
	}
	return c, nil
}

func (s *Store) CreateCard(ctx context.Context, c *card.Card) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.CodeUID, c.NumeroSerie, string(c.Type), c.Balance, c.MaxBalance,
		c.Limits.DailyLimit, c.Limits.MonthlyLimit, c.Limits.DailyUsed, c.Limits.MonthlyUsed,
		nullTime(c.Limits.DailyWindowStart), nullTime(c.Limits.MonthlyWindowStart),
		string(c.Status), c.BlockReason, string(c.Owner.Kind), c.Owner.ID, c.ExpirationDate.UTC(),
		c.TransactionCount, c.Version, c.PINHash, c.ReplacesCardID, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		if violates(err, replacementIndex, "cards.replaces_card_id") {
			return fmt.Errorf("%w: %s", ledger.ErrAlreadyReplaced, c.ReplacesCardID)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateCard, c.CodeUID)
		}
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

func (s *Store) UpdateCard(ctx context.Context, c *card.Card, expectedVersion int64) error {
	if err := s.updateCard(ctx, s.db, c, expectedVersion); err != nil {
		return err
	}
	c.Version = expectedVersion + 1
	return nil
}

func (s *Store) updateCard(ctx context.Context, q execer, c *card.Card, expectedVersion int64) error {
	res, err := q.ExecContext(ctx, s.rebind(`UPDATE cards SET
		numero_serie = ?, type = ?, balance = ?, max_balance = ?,
		daily_limit = ?, monthly_limit = ?, daily_used = ?, monthly_used = ?,
		daily_window_start = ?, monthly_window_start = ?,
		status = ?, block_reason = ?, owner_kind = ?, owner_id = ?, expiration_date = ?,
		transaction_count = ?, version = ?, pin_hash = ?, replaces_card_id = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		c.NumeroSerie, string(c.Type), c.Balance, c.MaxBalance,
		c.Limits.DailyLimit, c.Limits.MonthlyLimit, c.Limits.DailyUsed, c.Limits.MonthlyUsed,
		nullTime(c.Limits.DailyWindowStart), nullTime(c.Limits.MonthlyWindowStart),
		string(c.Status), c.BlockReason, string(c.Owner.Kind), c.Owner.ID, c.ExpirationDate.UTC(),
		c.TransactionCount, expectedVersion+1, c.PINHash, c.ReplacesCardID, c.UpdatedAt.UTC(),
		c.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", c.ID, err)
	}
	if n == 1 {
		return nil
	}

	var current int64
	err = q.QueryRowContext(ctx, s.rebind(`SELECT version FROM cards WHERE id = ?`), c.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrCardNotFound, c.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read card version %s: %w", c.ID, err)
	}
	return fmt.Errorf("%w: card %s at version %d, expected %d", ledger.ErrVersionConflict, c.ID, current, expectedVersion)
}

// Apply writes the card and the transaction in one database transaction.
func (s *Store) Apply(ctx context.Context, c *card.Card, expectedVersion int64, t *ledger.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.updateCard(ctx, tx, c, expectedVersion); err != nil {
		return err
	}
	if err := s.insertTransaction(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction %s: %w", t.ReferenceInterne, err)
	}
	c.Version = expectedVersion + 1
	return nil
}
