package sqlstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/common"
	"github.com/rfidpay/cardcore/backend/pkg/common/db"
	"github.com/rfidpay/cardcore/backend/pkg/common/migrations"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Connect(ctx, common.DBConfig{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "cards.db")})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	applied, err := migrations.RunMigrations(conn, Migrations, MigrationsDir)
	if err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	if len(applied) != 4 {
		t.Fatalf("applied = %v", applied)
	}
	again, err := migrations.RunMigrations(conn, Migrations, MigrationsDir)
	if err != nil || len(again) != 0 {
		t.Fatalf("second run applied %v, err %v", again, err)
	}
	return New(conn, db.DriverSQLite)
}

var now = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

func newLedger(s *Store) *ledger.Ledger {
	return ledger.New(s, ledger.Config{
		Clock:  func() time.Time { return now },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestCardRoundTripAndVersionGuard(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	l := newLedger(s)

	c, err := l.IssueCard(ctx, ledger.IssueRequest{CodeUID: "04AA", Type: card.TypePremium, Owner: card.Enterprise("acme")})
	if err != nil {
		t.Fatalf("IssueCard: %v", err)
	}
	got, err := s.GetCard(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.Owner != card.Enterprise("acme") || got.Type != card.TypePremium || got.Status != card.StatusInactive {
		t.Fatalf("loaded card = %+v", got)
	}
	if !got.ExpirationDate.Equal(c.ExpirationDate) || !got.Limits.DailyWindowStart.Equal(c.Limits.DailyWindowStart) {
		t.Fatalf("times not preserved: %v / %v", got.ExpirationDate, got.Limits.DailyWindowStart)
	}
	byUID, err := s.GetCardByUID(ctx, "04AA")
	if err != nil || byUID.ID != c.ID {
		t.Fatalf("GetCardByUID: %v %v", byUID, err)
	}

	if err := s.CreateCard(ctx, got); !errors.Is(err, ledger.ErrDuplicateCard) {
		t.Fatalf("duplicate insert: err = %v", err)
	}

	got.BlockReason = "stale write"
	if err := s.UpdateCard(ctx, got, got.Version+5); !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("stale update: err = %v", err)
	}
	if err := s.UpdateCard(ctx, got, got.Version); err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("version = %d, want 2", got.Version)
	}
	ghost := got.Clone()
	ghost.ID = "ghost"
	if err := s.UpdateCard(ctx, ghost, 1); !errors.Is(err, ledger.ErrCardNotFound) {
		t.Fatalf("update missing card: err = %v", err)
	}
	if _, err := s.GetCard(ctx, "ghost"); !errors.Is(err, ledger.ErrCardNotFound) {
		t.Fatalf("GetCard missing: err = %v", err)
	}
}

func TestLedgerOverSQL(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	l := newLedger(s)

	c, err := l.IssueCard(ctx, ledger.IssueRequest{
		CodeUID:  "04BB",
		Type:     card.TypeStandard,
		Owner:    card.Person("p1"),
		Ceilings: &card.Ceilings{DailyLimit: 50_000, MonthlyLimit: 500_000, MaxBalance: 200_000},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.ActivateCard(ctx, c.ID); err != nil {
		t.Fatal(err)
	}

	recharge, err := l.Authorize(ctx, ledger.Request{CardID: c.ID, Type: ledger.TypeRecharge, Amount: 100_000})
	if err != nil || recharge.Status != ledger.StatusValidee {
		t.Fatalf("recharge: %+v %v", recharge, err)
	}
	purchase, err := l.Authorize(ctx, ledger.Request{
		CardID: c.ID, Type: ledger.TypeAchat, Amount: 45_000,
		Metadata: ledger.Metadata{MerchantID: "M001", MerchantName: "Supermarché Central", TerminalID: "T-1"},
	})
	if err != nil || purchase.Status != ledger.StatusValidee || purchase.Fee != 450 {
		t.Fatalf("purchase: %+v %v", purchase, err)
	}
	refused, err := l.Authorize(ctx, ledger.Request{CardID: c.ID, Type: ledger.TypeAchat, Amount: 6_000})
	if err != nil || refused.ErrorCode != ledger.CodeDailyLimitExceeded {
		t.Fatalf("over limit: %+v %v", refused, err)
	}

	stored, err := s.GetCard(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Balance != 54_550 || stored.Limits.DailyUsed != 45_450 || stored.TransactionCount != 2 {
		t.Fatalf("card = balance %d daily_used %d count %d", stored.Balance, stored.Limits.DailyUsed, stored.TransactionCount)
	}

	got, err := s.GetTransaction(ctx, purchase.ReferenceInterne)
	if err != nil {
		t.Fatalf("GetTransaction by reference: %v", err)
	}
	if got.ID != purchase.ID || got.MerchantName != "Supermarché Central" || got.CompletedAt == nil {
		t.Fatalf("loaded transaction = %+v", got)
	}

	all, err := s.ListTransactions(ctx, ledger.TransactionFilter{CardID: c.ID})
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %d %v", len(all), err)
	}
	failed, err := s.ListTransactions(ctx, ledger.TransactionFilter{CardID: c.ID, Status: ledger.StatusEchouee})
	if err != nil || len(failed) != 1 || failed[0].ID != refused.ID {
		t.Fatalf("list failed: %v %v", failed, err)
	}
	window, err := s.ListTransactions(ctx, ledger.TransactionFilter{From: now.Add(time.Second), Limit: 10})
	if err != nil || len(window) != 0 {
		t.Fatalf("list after now: %v %v", window, err)
	}
	limited, err := s.ListTransactions(ctx, ledger.TransactionFilter{Type: ledger.TypeAchat, Limit: 1})
	if err != nil || len(limited) != 1 {
		t.Fatalf("list limited: %v %v", limited, err)
	}

	refund, err := l.Refund(ctx, purchase.ID, "cancelled order")
	if err != nil || refund.Status != ledger.StatusValidee || refund.Amount != 45_450 {
		t.Fatalf("refund: %+v %v", refund, err)
	}
	if _, err := l.Refund(ctx, purchase.ID, ""); !errors.Is(err, ledger.ErrAlreadyRefunded) {
		t.Fatalf("second refund: err = %v", err)
	}
}

func TestApplyRollsBackOnConflict(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	l := newLedger(s)
	c, err := l.IssueCard(ctx, ledger.IssueRequest{CodeUID: "04CC", Type: card.TypeStandard, Owner: card.Person("p")})
	if err != nil {
		t.Fatal(err)
	}
	tx := &ledger.Transaction{
		ID: "t-1", ReferenceInterne: "TXN-T1", CardID: c.ID, Type: ledger.TypeRecharge,
		Direction: ledger.Credit, Amount: 10, BalanceAfter: 10, Status: ledger.StatusValidee, CreatedAt: now,
	}
	c.Balance = 10
	if err := s.Apply(ctx, c, c.Version+1, tx); !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("Apply with stale version: err = %v", err)
	}
	if _, err := s.GetTransaction(ctx, "t-1"); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Fatalf("transaction written despite conflict: err = %v", err)
	}
}

func TestSecondValidRefundRejectedBySchema(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	l := newLedger(s)
	c, err := l.IssueCard(ctx, ledger.IssueRequest{CodeUID: "04DD", Type: card.TypeStandard, Owner: card.Person("p")})
	if err != nil {
		t.Fatal(err)
	}
	refund := func(id string, status ledger.TxStatus) *ledger.Transaction {
		return &ledger.Transaction{
			ID: id, ReferenceInterne: "TXN-" + id, CardID: c.ID, Type: ledger.TypeRemboursement,
			Direction: ledger.Credit, Amount: 10, Status: status, ReversalOf: "debit-1", CreatedAt: now,
		}
	}

	if err := s.Apply(ctx, c, c.Version, refund("r-1", ledger.StatusValidee)); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if err := s.AppendTransaction(ctx, refund("r-2", ledger.StatusEchouee)); err != nil {
		t.Fatalf("failed refund attempt must still be journaled: %v", err)
	}
	version := c.Version
	if err := s.Apply(ctx, c, version, refund("r-3", ledger.StatusValidee)); !errors.Is(err, ledger.ErrAlreadyRefunded) {
		t.Fatalf("second refund: err = %v", err)
	}
	stored, err := s.GetCard(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != version {
		t.Fatalf("card version %d after rolled back refund, want %d", stored.Version, version)
	}
}

func TestCardReplacedOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	l := newLedger(s)
	c, err := l.IssueCard(ctx, ledger.IssueRequest{CodeUID: "04EE", Type: card.TypeStandard, Owner: card.Person("p")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.ActivateCard(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ReportLostOrStolen(ctx, c.ID, card.StatusVolee, "pickpocket"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.IssueReplacement(ctx, c.ID, ledger.ReplacementRequest{CodeUID: "04EF"}); err != nil {
		t.Fatalf("first replacement: %v", err)
	}
	if _, err := l.IssueReplacement(ctx, c.ID, ledger.ReplacementRequest{CodeUID: "04F0"}); !errors.Is(err, ledger.ErrAlreadyReplaced) {
		t.Fatalf("second replacement: err = %v", err)
	}
	if _, err := l.IssueCard(ctx, ledger.IssueRequest{CodeUID: "04EF", Type: card.TypeStandard, Owner: card.Person("q")}); !errors.Is(err, ledger.ErrDuplicateCard) {
		t.Fatalf("duplicate uid: err = %v", err)
	}
}

func TestRebindForPostgres(t *testing.T) {
	s := New(nil, "postgres")
	got := s.rebind(`SELECT a FROM t WHERE x = ? AND y = ? LIMIT ?`)
	want := `SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT $3`
	if got != want {
		t.Fatalf("rebind = %q", got)
	}
	if q := New(nil, "sqlite3").rebind("x = ?"); q != "x = ?" {
		t.Fatalf("sqlite rebind = %q", q)
	}
}
