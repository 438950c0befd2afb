package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/vcpool/internal/database"
	"github.com/iliyamo/vcpool/internal/model"
	"github.com/iliyamo/vcpool/internal/queue"
	"github.com/iliyamo/vcpool/internal/testutil"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []queue.PoolEvent
}

func (l *eventLog) Publish(_ context.Context, ev queue.PoolEvent) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) count(typ string) int {
	n := 0
	for _, t := range l.types() {
		if t == typ {
			n++
		}
	}
	return n
}

type memStore struct {
	mu      sync.Mutex
	fail    error
	objects map[string][]byte
}

func (s *memStore) Upload(_ context.Context, name, _ string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	key := fmt.Sprintf("obj-%d-%s", len(s.objects)+1, name)
	s.objects[key] = data
	return key, nil
}

type fixture struct {
	svc    *Services
	clock  *testClock
	events *eventLog
	store  *memStore
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, d := testutil.OpenDB(t)
	return newFixtureOn(db, d)
}

func newFixtureOn(db *sql.DB, d database.Dialect) *fixture {
	f := &fixture{
		clock:  &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		events: &eventLog{},
		store:  &memStore{},
		ctx:    context.Background(),
	}
	f.svc = New(db, d, Options{Clock: f.clock.Now, Events: f.events, Evidence: f.store, ReaperBatch: 2})
	return f
}

const adminID = 900

// backends runs fn against SQLite and, when testutil.MySQLEnv is set,
// against MySQL.  The SQLite handle has a single connection, so
// database/sql already serializes the transactions there and the FOR
// UPDATE row locks never run; only the MySQL subtest covers them.
func backends(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newFixture(t)) })
	t.Run("mysql", func(t *testing.T) {
		db, d := testutil.OpenMySQL(t)
		fn(t, newFixtureOn(db, d))
	})
}

// openPool creates and publishes a pool with a 1000 contribution, 5% fee
// and a 30 minute payment window.
func (f *fixture) openPool(t *testing.T, maxMembers int) *model.Pool {
	t.Helper()
	p, err := f.svc.Pools.CreateDraft(f.ctx, adminID, DraftInput{
		Name:                   "Seed round",
		MaxMembers:             maxMembers,
		ContributionAmount:     decimal.NewFromInt(1000),
		CoinType:               "usdt",
		PoolFeePercent:         decimal.NewFromInt(5),
		PaymentWindowMinutes:   30,
		AdminSettlementAddress: "TQ4s9settle",
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if p, err = f.svc.Pools.Publish(f.ctx, p.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return p
}

func (f *fixture) reserve(t *testing.T, poolID, userID int64, method model.PaymentMethod) *model.SeatReservation {
	t.Helper()
	res, err := f.svc.Seats.Reserve(f.ctx, poolID, userID, method)
	if err != nil {
		t.Fatalf("Reserve(user %d): %v", userID, err)
	}
	return res
}

func receipt(body string) *Evidence {
	return &Evidence{Name: "receipt.png", ContentType: "image/png", Body: strings.NewReader(body)}
}

// paid reserves a transfer seat for userID and submits evidence, leaving
// the submission in processing.
func (f *fixture) paid(t *testing.T, poolID, userID int64) (*model.SeatReservation, *model.PaymentSubmission) {
	t.Helper()
	res := f.reserve(t, poolID, userID, model.PaymentTransfer)
	sub, err := f.svc.Submissions.Submit(f.ctx, userID, res.ID, model.PaymentTransfer, receipt("tx-hash-"+fmt.Sprint(userID)))
	if err != nil {
		t.Fatalf("Submit(user %d): %v", userID, err)
	}
	if sub.Status != model.SubmissionProcessing {
		t.Fatalf("submission status = %s, want processing", sub.Status)
	}
	return res, sub
}

func (f *fixture) pool(t *testing.T, id int64) *model.PoolView {
	t.Helper()
	v, err := f.svc.Pools.Get(f.ctx, id)
	if err != nil {
		t.Fatalf("Get pool: %v", err)
	}
	return v
}

func (f *fixture) heldSeats(t *testing.T, id int64) int {
	t.Helper()
	v := f.pool(t, id)
	return v.VerifiedMembers + v.ActiveReservations
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

