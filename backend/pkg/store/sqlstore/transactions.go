package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rfidpay/cardcore/backend/pkg/ledger"
)

const txColumns = `id, reference_interne, card_id, type, direction, amount, fee,
	balance_before, balance_after, status, error_code, reversal_of,
	merchant_id, merchant_name, terminal_id, counterparty_card_id, description,
	created_at, completed_at`

func (s *Store) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	return s.insertTransaction(ctx, s.db, t)
}

func (s *Store) insertTransaction(ctx context.Context, q execer, t *ledger.Transaction) error {
	var completed sql.NullTime
	if t.CompletedAt != nil {
		completed = nullTime(*t.CompletedAt)
	}
	_, err := q.ExecContext(ctx, s.rebind(`INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.ReferenceInterne, t.CardID, string(t.Type), string(t.Direction), t.Amount, t.Fee,
		t.BalanceBefore, t.BalanceAfter, string(t.Status), string(t.ErrorCode), t.ReversalOf,
		t.MerchantID, t.MerchantName, t.TerminalID, t.CounterpartyCardID, t.Description,
		t.CreatedAt.UTC(), completed)
	if err != nil {
		if violates(err, refundOnceIndex, "transactions.reversal_of") {
			return fmt.Errorf("%w: %s", ledger.ErrAlreadyRefunded, t.ReversalOf)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction %s already recorded: %w", t.ReferenceInterne, err)
		}
		return fmt.Errorf("failed to insert transaction %s: %w", t.ReferenceInterne, err)
	}
	return nil
}

func scanTransaction(row scanner) (*ledger.Transaction, error) {
	var (
		t                      ledger.Transaction
		typ, dir, status, code string
		completed              sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ReferenceInterne, &t.CardID, &typ, &dir, &t.Amount, &t.Fee,
		&t.BalanceBefore, &t.BalanceAfter, &status, &code, &t.ReversalOf,
		&t.MerchantID, &t.MerchantName, &t.TerminalID, &t.CounterpartyCardID, &t.Description,
		&t.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	t.Type = ledger.TxType(typ)
	t.Direction = ledger.Direction(dir)
	t.Status = ledger.TxStatus(status)
	t.ErrorCode = ledger.Code(code)
	t.CreatedAt = t.CreatedAt.UTC()
	if completed.Valid {
		at := completed.Time.UTC()
		t.CompletedAt = &at
	}
	return &t, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+txColumns+` FROM transactions WHERE id = ? OR reference_interne = ?`), id, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		where = append(where, cond)
		args = append(args, arg)
	}
	if f.CardID != "" {
		add("card_id = ?", f.CardID)
	}
	if f.Type != "" {
		add("type = ?", string(f.Type))
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.ReversalOf != "" {
		add("reversal_of = ?", f.ReversalOf)
	}
	if !f.From.IsZero() {
		add("created_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("created_at < ?", f.To.UTC())
	}

	q := `SELECT ` + txColumns + ` FROM transactions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, reference_interne DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
