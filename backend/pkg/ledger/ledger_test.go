package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/limits"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	ledger *Ledger
	store  *MemoryStore
	clock  *fakeClock
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  NewMemoryStore(),
		clock:  &fakeClock{now: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)},
		events: &recorder{},
	}
	h.ledger = New(h.store, Config{
		Clock:  h.clock.Now,
		Events: h.events,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

// seed stores an ACTIVE card directly.
func (h *harness) seed(t *testing.T, id string, balance, dailyLimit, dailyUsed int64) *card.Card {
	t.Helper()
	now := h.clock.Now()
	tr := limits.NewTracker(time.UTC)
	c := &card.Card{
		ID:         id,
		CodeUID:    "UID-" + id,
		Type:       card.TypePremium,
		Balance:    balance,
		MaxBalance: 1_000_000,
		Limits: limits.Usage{
			DailyLimit:         dailyLimit,
			MonthlyLimit:       2_000_000,
			DailyUsed:          dailyUsed,
			MonthlyUsed:        dailyUsed,
			DailyWindowStart:   tr.DayStart(now),
			MonthlyWindowStart: tr.MonthStart(now),
		},
		Status:         card.StatusActive,
		Owner:          card.Person("owner-" + id),
		ExpirationDate: now.AddDate(1, 0, 0),
		Version:        1,
	}
	if err := h.store.CreateCard(context.Background(), c); err != nil {
		t.Fatalf("seed card: %v", err)
	}
	return c
}

func (h *harness) card(t *testing.T, id string) *card.Card {
	t.Helper()
	c, err := h.store.GetCard(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCard(%s): %v", id, err)
	}
	return c
}

func mustAuthorize(t *testing.T, l *Ledger, req Request) *Transaction {
	t.Helper()
	tx, err := l.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize(%+v): %v", req, err)
	}
	return tx
}

func TestAuthorizePurchaseWithinDailyLimit(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 100_000, 50_000, 45_000)

	tx := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeAchat, Amount: 4_000})

	if tx.Status != StatusValidee {
		t.Fatalf("status = %s (%s), want VALIDEE", tx.Status, tx.ErrorCode)
	}
	if tx.Fee != 0 || tx.BalanceBefore != 100_000 || tx.BalanceAfter != 96_000 {
		t.Fatalf("tx = fee %d before %d after %d", tx.Fee, tx.BalanceBefore, tx.BalanceAfter)
	}
	c := h.card(t, "c1")
	if c.Balance != 96_000 || c.Limits.DailyUsed != 49_000 {
		t.Fatalf("card balance %d daily_used %d, want 96000/49000", c.Balance, c.Limits.DailyUsed)
	}
	if c.TransactionCount != 1 || c.Version != 2 {
		t.Fatalf("transaction_count %d version %d", c.TransactionCount, c.Version)
	}
}

func TestAuthorizeDailyLimitExceeded(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 100_000, 50_000, 45_000)

	tx := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeAchat, Amount: 6_000})

	if tx.Status != StatusEchouee || tx.ErrorCode != CodeDailyLimitExceeded {
		t.Fatalf("tx = %s/%s, want ECHOUEE/DAILY_LIMIT_EXCEEDED", tx.Status, tx.ErrorCode)
	}
	if !errors.Is(tx.Err(), ErrDailyLimitExceeded) {
		t.Fatalf("tx.Err() = %v", tx.Err())
	}
	c := h.card(t, "c1")
	if c.Balance != 100_000 || c.Limits.DailyUsed != 45_000 || c.Version != 1 {
		t.Fatalf("card mutated: balance %d daily_used %d version %d", c.Balance, c.Limits.DailyUsed, c.Version)
	}
	stored, err := h.store.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("failed transaction not recorded: %v", err)
	}
	if stored.BalanceAfter != stored.BalanceBefore {
		t.Fatalf("ECHOUEE balance_after %d != before %d", stored.BalanceAfter, stored.BalanceBefore)
	}
}

func TestAuthorizeMonthlyLimitExceeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.seed(t, "c1", 100_000, 50_000, 0)
	c.Limits.MonthlyUsed = 1_995_000
	if err := h.store.UpdateCard(ctx, c, c.Version); err != nil {
		t.Fatal(err)
	}

	tx := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeAchat, Amount: 10_000})

	if tx.Status != StatusEchouee || tx.ErrorCode != CodeMonthlyLimitExceeded {
		t.Fatalf("tx = %s/%s, want ECHOUEE/MONTHLY_LIMIT_EXCEEDED", tx.Status, tx.ErrorCode)
	}
	if !errors.Is(tx.Err(), ErrMonthlyLimitExceeded) {
		t.Fatalf("tx.Err() = %v", tx.Err())
	}
	got := h.card(t, "c1")
	if got.Balance != 100_000 || got.Limits.DailyUsed != 0 || got.Limits.MonthlyUsed != 1_995_000 {
		t.Fatalf("card mutated: balance %d daily_used %d monthly_used %d", got.Balance, got.Limits.DailyUsed, got.Limits.MonthlyUsed)
	}
	if got.Version != c.Version || got.TransactionCount != 0 {
		t.Fatalf("version %d transaction_count %d, want %d/0", got.Version, got.TransactionCount, c.Version)
	}
}

func TestAuthorizeChargesFeeAgainstBalanceAndLimit(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 100_000, 100_000, 0)

	tx := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeRetrait, Amount: 20_000})
	if tx.Status != StatusValidee || tx.Fee != 200 || tx.BalanceAfter != 79_800 {
		t.Fatalf("tx = %s fee %d after %d", tx.Status, tx.Fee, tx.BalanceAfter)
	}
	if got := h.card(t, "c1").Limits.DailyUsed; got != 20_200 {
		t.Fatalf("daily_used = %d, want 20200", got)
	}

	// 79 800 covers the amount but not amount + fee.
	tx = mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeAchat, Amount: 79_500})
	if tx.ErrorCode != CodeInsufficientBalance {
		t.Fatalf("code = %s, want INSUFFICIENT_BALANCE", tx.ErrorCode)
	}
}

func TestAuthorizeValidationOrder(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "active", 1_000, 50_000, 0)
	blocked := h.seed(t, "blocked", 1_000, 50_000, 0)
	blocked.Status = card.StatusBloquee
	if err := h.store.UpdateCard(context.Background(), blocked, 1); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  Request
		want Code
	}{
		{"unknown card", Request{CardID: "nope", Type: TypeAchat, Amount: 0}, CodeCardNotFound},
		{"zero amount", Request{CardID: "blocked", Type: TypeAchat, Amount: 0}, CodeInvalidAmount},
		{"negative amount", Request{CardID: "active", Type: TypeRecharge, Amount: -5}, CodeInvalidAmount},
		{"blocked card", Request{CardID: "blocked", Type: TypeAchat, Amount: 5_000}, CodeCardNotActive},
		{"insufficient", Request{CardID: "active", Type: TypeAchat, Amount: 5_000}, CodeInsufficientBalance},
		{"cap", Request{CardID: "active", Type: TypeRecharge, Amount: 999_001}, CodeBalanceCapExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := mustAuthorize(t, h.ledger, tt.req)
			if tx.Status != StatusEchouee || tx.ErrorCode != tt.want {
				t.Fatalf("got %s/%s, want ECHOUEE/%s", tx.Status, tx.ErrorCode, tt.want)
			}
		})
	}

	if _, err := h.ledger.Authorize(context.Background(), Request{CardID: "active", Type: "GIFT", Amount: 1}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("unknown type: err = %v", err)
	}
}

func TestAuthorizeNonActiveStatuses(t *testing.T) {
	for _, st := range []card.Status{card.StatusExpiree, card.StatusPerdue, card.StatusVolee, card.StatusSuspendue, card.StatusInactive} {
		t.Run(string(st), func(t *testing.T) {
			h := newHarness(t)
			c := h.seed(t, "c1", 50_000, 50_000, 0)
			c.Status = st
			if err := h.store.UpdateCard(context.Background(), c, 1); err != nil {
				t.Fatal(err)
			}
			tx := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeRecharge, Amount: 1_000})
			if tx.ErrorCode != CodeCardNotActive {
				t.Fatalf("code = %s, want CARD_NOT_ACTIVE", tx.ErrorCode)
			}
			if h.card(t, "c1").Balance != 50_000 {
				t.Fatal("balance changed")
			}
		})
	}
}

func TestAuthorizeExpiresCardPastExpiration(t *testing.T) {
	h := newHarness(t)
	c := h.seed(t, "c1", 50_000, 50_000, 0)
	h.clock.Advance(c.ExpirationDate.Sub(h.clock.Now()) + time.Minute)

	tx := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeAchat, Amount: 1_000})
	if tx.ErrorCode != CodeCardNotActive {
		t.Fatalf("code = %s, want CARD_NOT_ACTIVE", tx.ErrorCode)
	}
	if got := h.card(t, "c1").Status; got != card.StatusExpiree {
		t.Fatalf("stored status = %s, want EXPIREE", got)
	}
	types := h.events.types()
	if len(types) != 2 || types[0] != EventCardExpired || types[1] != EventTransactionFailed {
		t.Fatalf("events = %v", types)
	}
}

func TestAuthorizeCreditsCarryNoFee(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 0, 50_000, 0)

	tx := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeRecharge, Amount: 60_000})
	if tx.Status != StatusValidee || tx.Fee != 0 || tx.Direction != Credit || tx.BalanceAfter != 60_000 {
		t.Fatalf("recharge = %+v", tx)
	}
	tx = mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeTransfert, Direction: Credit, Amount: 20_000})
	if tx.Fee != 0 || tx.BalanceAfter != 80_000 {
		t.Fatalf("transfer-in fee %d after %d", tx.Fee, tx.BalanceAfter)
	}
	tx = mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeTransfert, Amount: 20_000})
	if tx.Direction != Debit || tx.Fee != 200 || tx.BalanceAfter != 59_800 {
		t.Fatalf("transfer-out = %s fee %d after %d", tx.Direction, tx.Fee, tx.BalanceAfter)
	}
}

func TestConcurrentDebitsSpendBalanceOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 10_000, 50_000, 0)

	var wg sync.WaitGroup
	results := make([]*Transaction, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := h.ledger.Authorize(context.Background(), Request{CardID: "c1", Type: TypeAchat, Amount: 8_000})
			if err != nil {
				t.Errorf("Authorize: %v", err)
			}
			results[i] = tx
		}(i)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	var validated, insufficient int
	for _, tx := range results {
		switch {
		case tx.Status == StatusValidee:
			validated++
		case tx.ErrorCode == CodeInsufficientBalance:
			insufficient++
		}
	}
	if validated != 1 || insufficient != 1 {
		t.Fatalf("validated %d insufficient %d, want 1 and 1", validated, insufficient)
	}
	if got := h.card(t, "c1").Balance; got != 2_000 {
		t.Fatalf("balance = %d, want 2000", got)
	}
}

// racingStore simulates another process writing the card between our read
// and our write.
type racingStore struct {
	*MemoryStore
	races int
}

func (s *racingStore) Apply(ctx context.Context, c *card.Card, expected int64, tx *Transaction) error {
	if s.races > 0 {
		s.races--
		other, err := s.MemoryStore.GetCard(ctx, c.ID)
		if err != nil {
			return err
		}
		other.Balance -= 1_000
		if err := s.MemoryStore.UpdateCard(ctx, other, other.Version); err != nil {
			return err
		}
	}
	return s.MemoryStore.Apply(ctx, c, expected, tx)
}

func TestAuthorizeRetriesVersionConflicts(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 10_000, 50_000, 0)
	rs := &racingStore{MemoryStore: h.store, races: 2}
	l := New(rs, Config{Clock: h.clock.Now, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	tx := mustAuthorize(t, l, Request{CardID: "c1", Type: TypeAchat, Amount: 7_000})
	if tx.Status != StatusValidee {
		t.Fatalf("status = %s/%s, want VALIDEE after retries", tx.Status, tx.ErrorCode)
	}
	if tx.BalanceBefore != 8_000 || tx.BalanceAfter != 1_000 {
		t.Fatalf("validated against stale balance: before %d after %d", tx.BalanceBefore, tx.BalanceAfter)
	}

	rs.races = 3
	tx = mustAuthorize(t, l, Request{CardID: "c1", Type: TypeRecharge, Amount: 1_000})
	if tx.ErrorCode != CodeConcurrentModification {
		t.Fatalf("code = %s, want CONCURRENT_MODIFICATION", tx.ErrorCode)
	}
}

type failingStore struct {
	*MemoryStore
	applyErr  error
	appendErr error
}

func (s *failingStore) Apply(ctx context.Context, c *card.Card, expected int64, tx *Transaction) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	return s.MemoryStore.Apply(ctx, c, expected, tx)
}

func (s *failingStore) AppendTransaction(ctx context.Context, tx *Transaction) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.MemoryStore.AppendTransaction(ctx, tx)
}

func TestAuthorizeStoreFailures(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 10_000, 50_000, 0)
	fs := &failingStore{MemoryStore: h.store, applyErr: errors.New("disk on fire")}
	l := New(fs, Config{Clock: h.clock.Now, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	tx := mustAuthorize(t, l, Request{CardID: "c1", Type: TypeAchat, Amount: 1_000})
	if tx.ErrorCode != CodeInternalError || tx.BalanceAfter != 10_000 {
		t.Fatalf("tx = %s after %d, want INTERNAL_ERROR and unchanged balance", tx.ErrorCode, tx.BalanceAfter)
	}

	fs.appendErr = errors.New("journal unavailable")
	tx, err := l.Authorize(context.Background(), Request{CardID: "c1", Type: TypeAchat, Amount: 1_000})
	if err == nil {
		t.Fatal("expected error when the failure itself cannot be recorded")
	}
	if tx == nil || tx.Status != StatusEchouee {
		t.Fatalf("tx = %+v", tx)
	}
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 100_000, 100_000, 0)
	ctx := context.Background()

	debit := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeAchat, Amount: 20_000})
	refund, err := h.ledger.Refund(ctx, debit.ID, "item returned")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refund.Status != StatusValidee || refund.Type != TypeRemboursement || refund.Amount != 20_200 || refund.Fee != 0 {
		t.Fatalf("refund = %s %s amount %d fee %d", refund.Status, refund.Type, refund.Amount, refund.Fee)
	}
	if refund.ReversalOf != debit.ID || refund.Description != "item returned" {
		t.Fatalf("refund links %q desc %q", refund.ReversalOf, refund.Description)
	}
	c := h.card(t, "c1")
	if c.Balance != 100_000 || c.Limits.DailyUsed != 0 {
		t.Fatalf("after refund balance %d daily_used %d", c.Balance, c.Limits.DailyUsed)
	}

	if _, err := h.ledger.Refund(ctx, debit.ID, ""); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("second refund: err = %v", err)
	}
	if _, err := h.ledger.Refund(ctx, refund.ID, ""); !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("refund of a credit: err = %v", err)
	}
	if _, err := h.ledger.Refund(ctx, "missing", ""); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("refund of unknown tx: err = %v", err)
	}
}

func TestAuthorizeRefusesUnlinkedRefund(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 10_000, 50_000, 0)

	tx, err := h.ledger.Authorize(context.Background(), Request{CardID: "c1", Type: TypeRemboursement, Amount: 5_000})
	if !errors.Is(err, ErrUnlinkedRefund) || tx != nil {
		t.Fatalf("Authorize(REMBOURSEMENT) = %+v, %v", tx, err)
	}
	if c := h.card(t, "c1"); c.Balance != 10_000 || c.Version != 1 {
		t.Fatalf("card credited: balance %d version %d", c.Balance, c.Version)
	}
	txs, err := h.store.ListTransactions(context.Background(), TransactionFilter{CardID: "c1"})
	if err != nil || len(txs) != 0 {
		t.Fatalf("journal = %v, %v", txs, err)
	}
}

// gatedStore holds refund lookups until two callers have reached one, so
// both read the journal before either commits.
type gatedStore struct {
	*MemoryStore
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func (s *gatedStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, error) {
	if f.ReversalOf != "" {
		s.mu.Lock()
		ch := s.release
		if ch != nil {
			s.arrived++
			if s.arrived == 2 {
				close(ch)
				s.release = nil
			}
		}
		s.mu.Unlock()
		if ch != nil {
			select {
			case <-ch:
			case <-time.After(2 * time.Second):
			}
		}
	}
	return s.MemoryStore.ListTransactions(ctx, f)
}

func TestRefundOnceAcrossLedgersSharingAStore(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", 100_000, 100_000, 0)
	ctx := context.Background()
	buy := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeAchat, Amount: 20_000})

	gs := &gatedStore{MemoryStore: h.store, release: make(chan struct{})}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledgers := []*Ledger{
		New(gs, Config{Clock: h.clock.Now, Logger: logger}),
		New(gs, Config{Clock: h.clock.Now, Logger: logger}),
	}

	errs := make([]error, len(ledgers))
	var wg sync.WaitGroup
	for i, l := range ledgers {
		i, l := i, l
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.Refund(ctx, buy.ID, "")
		}()
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyRefunded):
			refused++
		default:
			t.Fatalf("Refund: %v", err)
		}
	}
	if ok != 1 || refused != 1 {
		t.Fatalf("%d refunds succeeded, %d refused; want 1 and 1", ok, refused)
	}
	refunds, err := h.store.ListTransactions(ctx, TransactionFilter{ReversalOf: buy.ID, Status: StatusValidee})
	if err != nil || len(refunds) != 1 {
		t.Fatalf("validated refunds = %d, %v", len(refunds), err)
	}
	if c := h.card(t, "c1"); c.Balance != 100_000 {
		t.Fatalf("balance %d after one refund of %d, want 100000", c.Balance, buy.Total())
	}
}

func TestMemoryStoreRejectsSecondValidRefund(t *testing.T) {
	h := newHarness(t)
	c := h.seed(t, "c1", 100_000, 100_000, 0)
	ctx := context.Background()
	refund := func(id string, status TxStatus) *Transaction {
		return &Transaction{
			ID: id, ReferenceInterne: "TXN-" + id, CardID: "c1", Type: TypeRemboursement,
			Direction: Credit, Amount: 10, Status: status, ReversalOf: "debit-1", CreatedAt: h.clock.Now(),
		}
	}

	if err := h.store.Apply(ctx, c, c.Version, refund("r-1", StatusValidee)); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if err := h.store.AppendTransaction(ctx, refund("r-2", StatusEchouee)); err != nil {
		t.Fatalf("failed refund attempt: %v", err)
	}
	version := c.Version
	if err := h.store.Apply(ctx, c, version, refund("r-3", StatusValidee)); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("second refund: err = %v", err)
	}
	if got := h.card(t, "c1"); got.Version != version {
		t.Fatalf("card version %d, want %d", got.Version, version)
	}
}

func TestCardLifecycleThroughLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.ledger.IssueCard(ctx, IssueRequest{CodeUID: "04A1B2C3", Type: card.TypeStandard})
	if err != nil {
		t.Fatalf("IssueCard: %v", err)
	}
	if c.Status != card.StatusInactive || c.Limits.DailyLimit != 50_000 || c.MaxBalance != 200_000 {
		t.Fatalf("issued card = %+v", c)
	}
	if !c.ExpirationDate.Equal(h.clock.Now().Add(defaultValidity)) {
		t.Fatalf("expiration = %v", c.ExpirationDate)
	}
	if _, err := h.ledger.IssueCard(ctx, IssueRequest{CodeUID: "04A1B2C3", Type: card.TypeStandard}); !errors.Is(err, ErrDuplicateCard) {
		t.Fatalf("duplicate code_uid: err = %v", err)
	}

	if _, err := h.ledger.ActivateCard(ctx, c.ID); !errors.Is(err, card.ErrNoOwner) {
		t.Fatalf("activate without owner: err = %v", err)
	}
	if _, err := h.ledger.AssignOwner(ctx, c.ID, card.Person("p-1")); err != nil {
		t.Fatalf("AssignOwner: %v", err)
	}
	if c, err = h.ledger.ActivateCard(ctx, c.ID); err != nil || c.Status != card.StatusActive {
		t.Fatalf("ActivateCard: %v %v", c, err)
	}

	if _, err := h.ledger.BlockCard(ctx, c.ID, "card retained by merchant"); err != nil {
		t.Fatalf("BlockCard: %v", err)
	}
	tx := mustAuthorize(t, h.ledger, Request{CardID: c.ID, Type: TypeRecharge, Amount: 1_000})
	if tx.ErrorCode != CodeCardNotActive {
		t.Fatalf("authorize on blocked card: %s", tx.ErrorCode)
	}
	if _, err := h.ledger.UnblockCard(ctx, c.ID); err != nil {
		t.Fatalf("UnblockCard: %v", err)
	}
	if _, err := h.ledger.UnblockCard(ctx, c.ID); !errors.Is(err, card.ErrInvalidTransition) {
		t.Fatalf("unblock active card: err = %v", err)
	}

	if _, err := h.ledger.UpdateLimits(ctx, c.ID, 80_000, 60_000); !errors.Is(err, limits.ErrInvalidLimits) {
		t.Fatalf("daily > monthly: err = %v", err)
	}
	if c, err = h.ledger.UpdateLimits(ctx, c.ID, 20_000, 300_000); err != nil || c.Limits.DailyLimit != 20_000 {
		t.Fatalf("UpdateLimits: %v %v", c, err)
	}

	if _, err := h.ledger.ReportLostOrStolen(ctx, c.ID, card.StatusPerdue, "lost on the bus"); err != nil {
		t.Fatalf("ReportLostOrStolen: %v", err)
	}
	repl, err := h.ledger.IssueReplacement(ctx, c.ID, ReplacementRequest{CodeUID: "04FFEE01"})
	if err != nil {
		t.Fatalf("IssueReplacement: %v", err)
	}
	if repl.ReplacesCardID != c.ID || repl.Owner != c.Owner || repl.Limits.DailyLimit != 20_000 || repl.Status != card.StatusInactive {
		t.Fatalf("replacement = %+v", repl)
	}
	if _, err := h.ledger.IssueReplacement(ctx, repl.ID, ReplacementRequest{CodeUID: "X"}); !errors.Is(err, ErrNotReplaceable) {
		t.Fatalf("replace a healthy card: err = %v", err)
	}
	if _, err := h.ledger.IssueReplacement(ctx, c.ID, ReplacementRequest{CodeUID: "04FFEE02"}); !errors.Is(err, ErrAlreadyReplaced) {
		t.Fatalf("second replacement: err = %v", err)
	}

	want := []EventType{EventCardIssued, EventCardActivated, EventCardBlocked, EventTransactionFailed, EventCardUnblocked, EventLimitsUpdated, EventCardReported, EventCardIssued}
	got := h.events.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v\nwant %v", got, want)
	}
}

func TestActivateConsultsOwnerResolver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := New(h.store, Config{
		Clock:  h.clock.Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Owners: OwnerResolverFunc(func(_ context.Context, o card.Owner) (bool, error) {
			return o.ID == "known", nil
		}),
	})
	c, err := l.IssueCard(ctx, IssueRequest{CodeUID: "U1", Type: card.TypePremium, Owner: card.Person("ghost")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.ActivateCard(ctx, c.ID); !errors.Is(err, card.ErrNoOwner) {
		t.Fatalf("unknown owner: err = %v", err)
	}
	if _, err := l.AssignOwner(ctx, c.ID, card.Person("known")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ActivateCard(ctx, c.ID); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
}

func TestResetPINSuspendsUntilReactivated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "c1", 10_000, 50_000, 0)

	c, err := h.ledger.ResetPIN(ctx, "c1", "2468")
	if err != nil || c.Status != card.StatusSuspendue {
		t.Fatalf("ResetPIN: %v %v", c, err)
	}
	tx := mustAuthorize(t, h.ledger, Request{CardID: "c1", Type: TypeAchat, Amount: 100})
	if tx.ErrorCode != CodeCardNotActive {
		t.Fatalf("suspended card authorized: %s", tx.ErrorCode)
	}
	if _, err := h.ledger.ReactivateCard(ctx, "c1", "1111"); !errors.Is(err, card.ErrPINMismatch) {
		t.Fatalf("wrong PIN: err = %v", err)
	}
	if c, err = h.ledger.ReactivateCard(ctx, "c1", "2468"); err != nil || c.Status != card.StatusActive {
		t.Fatalf("ReactivateCard: %v %v", c, err)
	}
}

func TestGetCardReportsExpiryWithoutWriting(t *testing.T) {
	h := newHarness(t)
	c := h.seed(t, "c1", 0, 50_000, 0)
	h.clock.Advance(c.ExpirationDate.Sub(h.clock.Now()) + time.Hour)

	got, err := h.ledger.GetCard(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != card.StatusExpiree {
		t.Fatalf("status = %s, want EXPIREE", got.Status)
	}
	if h.card(t, "c1").Version != 1 {
		t.Fatal("GetCard wrote to the store")
	}
	if _, err := h.ledger.BlockCard(context.Background(), "c1", "x"); !errors.Is(err, card.ErrInvalidTransition) {
		t.Fatalf("block expired card: err = %v", err)
	}
	if h.card(t, "c1").Status != card.StatusExpiree {
		t.Fatal("expiry not persisted by lifecycle operation")
	}
}

func TestLedgerInvariantsUnderRandomLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		h.seed(t, id, 200_000, 150_000, 0)
	}
	rng := rand.New(rand.NewSource(42))
	types := []TxType{TypeAchat, TypeRetrait, TypeRecharge, TypeTransfert}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		reqs := make([]Request, 200)
		for i := range reqs {
			reqs[i] = Request{
				CardID: ids[rng.Intn(len(ids))],
				Type:   types[rng.Intn(len(types))],
				Amount: int64(rng.Intn(80_000)) - 1_000,
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, r := range reqs {
				if _, err := h.ledger.Authorize(ctx, r); err != nil {
					t.Errorf("Authorize: %v", err)
				}
			}
			h.clock.Advance(7 * time.Hour)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		c := h.card(t, id)
		if c.Balance < 0 || c.Balance > c.MaxBalance {
			t.Errorf("%s: balance %d outside [0, %d]", id, c.Balance, c.MaxBalance)
		}
		if c.Limits.DailyUsed > c.Limits.DailyLimit || c.Limits.MonthlyUsed > c.Limits.MonthlyLimit {
			t.Errorf("%s: usage %d/%d over limits", id, c.Limits.DailyUsed, c.Limits.MonthlyUsed)
		}

		txs, err := h.store.ListTransactions(ctx, TransactionFilter{CardID: id})
		if err != nil {
			t.Fatal(err)
		}
		balance := int64(200_000)
		var validated int64
		for i := len(txs) - 1; i >= 0; i-- {
			tx := txs[i]
			switch tx.Status {
			case StatusValidee:
				validated++
				want := tx.BalanceBefore + tx.Amount
				if tx.Direction == Debit {
					want = tx.BalanceBefore - tx.Amount - tx.Fee
				}
				if tx.BalanceAfter != want {
					t.Errorf("%s: balance_after %d, want %d", tx.ReferenceInterne, tx.BalanceAfter, want)
				}
				if tx.Direction == Debit {
					balance -= tx.Amount + tx.Fee
				} else {
					balance += tx.Amount
				}
			case StatusEchouee:
				if tx.BalanceAfter != tx.BalanceBefore {
					t.Errorf("%s: failed tx moved balance", tx.ReferenceInterne)
				}
			}
		}
		if balance != c.Balance {
			t.Errorf("%s: replayed balance %d, stored %d", id, balance, c.Balance)
		}
		if validated != c.TransactionCount {
			t.Errorf("%s: %d validated, transaction_count %d", id, validated, c.TransactionCount)
		}
	}
}
