package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/vcpool/internal/model"
	"github.com/iliyamo/vcpool/internal/testutil"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func seedPool(t *testing.T, repo *PoolRepo) *model.Pool {
	t.Helper()
	p := &model.Pool{
		Name:                   "Series A",
		Status:                 model.PoolOpen,
		MaxMembers:             3,
		ContributionAmount:     decimal.RequireFromString("1500.5"),
		CoinType:               "USDT",
		PoolFeePercent:         decimal.NewFromInt(2),
		PaymentWindowMinutes:   20,
		AdminSettlementAddress: "TAddr",
		CreatedBy:              1,
		CreatedAt:              t0,
		UpdatedAt:              t0,
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return p
}

func TestPoolRoundTripAndStatusGuard(t *testing.T) {
	db, d := testutil.OpenDB(t)
	ctx := context.Background()
	pools := NewPoolRepo(db, d)
	p := seedPool(t, pools)

	got, err := pools.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ContributionAmount.Equal(p.ContributionAmount) || !got.CreatedAt.Equal(t0) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := pools.UpdateStatusTx(ctx, tx, p.ID, model.PoolOpen, model.PoolActive, t0); err != nil {
		t.Fatal(err)
	}
	if err := pools.UpdateStatusTx(ctx, tx, p.ID, model.PoolOpen, model.PoolFull, t0); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale status update: expected ErrConflict, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	got, _ = pools.GetByID(ctx, p.ID)
	if got.Status != model.PoolActive || got.StartedAt == nil {
		t.Errorf("status=%s started=%v", got.Status, got.StartedAt)
	}
	if _, err := pools.GetByID(ctx, p.ID+1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReservationTransitionIsCompareAndSwap(t *testing.T) {
	db, d := testutil.OpenDB(t)
	ctx := context.Background()
	p := seedPool(t, NewPoolRepo(db, d))
	repo := NewReservationRepo(db, d)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	res := &model.SeatReservation{
		PoolID: p.ID, UserID: 5, Status: model.ReservationReserved, PaymentMethod: model.PaymentTransfer,
		CreatedAt: t0, ExpiresAt: t0.Add(20 * time.Minute), UpdatedAt: t0,
	}
	if err := repo.CreateTx(ctx, tx, res); err != nil {
		t.Fatal(err)
	}
	reason := model.ReasonExpired
	ok, err := repo.TransitionTx(ctx, tx, res.ID, model.ReservationReserved, model.ReservationExpired, &reason, t0)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, err = repo.TransitionTx(ctx, tx, res.ID, model.ReservationReserved, model.ReservationCancelled, &reason, t0)
	if err != nil || ok {
		t.Fatalf("second transition should lose: ok=%v err=%v", ok, err)
	}
	n, err := repo.CountByStatusTx(ctx, tx, p.ID, model.ReservationReserved, model.ReservationConverted)
	if err != nil || n != 0 {
		t.Fatalf("held = %d, err %v", n, err)
	}
}

func TestListOverdueBoundaries(t *testing.T) {
	db, d := testutil.OpenDB(t)
	ctx := context.Background()
	p := seedPool(t, NewPoolRepo(db, d))
	repo := NewReservationRepo(db, d)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, exp := range []time.Duration{-time.Minute, 0, time.Minute} {
		res := &model.SeatReservation{
			PoolID: p.ID, UserID: int64(i + 1), Status: model.ReservationReserved, PaymentMethod: model.PaymentHosted,
			CreatedAt: t0, ExpiresAt: t0.Add(exp), UpdatedAt: t0,
		}
		if err := repo.CreateTx(ctx, tx, res); err != nil {
			t.Fatal(err)
		}
	}
	inTx, err := repo.ListOverdueTx(ctx, tx, p.ID, t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if len(inTx) != 2 {
		t.Errorf("ListOverdueTx = %d rows, want 2 (deadline at or before now)", len(inTx))
	}

	rows, err := repo.ListOverdue(ctx, t0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].UserID != 1 {
		t.Errorf("ListOverdue = %+v, want only the strictly earlier deadline", rows)
	}
}

func TestSubmissionAndMembershipUniqueness(t *testing.T) {
	db, d := testutil.OpenDB(t)
	ctx := context.Background()
	p := seedPool(t, NewPoolRepo(db, d))
	reservations := NewReservationRepo(db, d)
	submissions := NewSubmissionRepo(db, d)
	memberships := NewMembershipRepo(db)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	res := &model.SeatReservation{
		PoolID: p.ID, UserID: 9, Status: model.ReservationReserved, PaymentMethod: model.PaymentTransfer,
		CreatedAt: t0, ExpiresAt: t0.Add(time.Hour), UpdatedAt: t0,
	}
	if err := reservations.CreateTx(ctx, tx, res); err != nil {
		t.Fatal(err)
	}
	inv, fee, total := model.Amounts(p)
	sub := &model.PaymentSubmission{
		ReservationID: res.ID, PoolID: p.ID, UserID: 9, PaymentMethod: model.PaymentTransfer,
		InvestmentAmount: inv, PoolFeeAmount: fee, TotalAmount: total, CoinType: "USDT",
		Status: model.SubmissionPending, PaymentDeadline: res.ExpiresAt, CreatedAt: t0, UpdatedAt: t0,
	}
	if err := submissions.CreateTx(ctx, tx, sub); err != nil {
		t.Fatal(err)
	}
	dup := *sub
	if err := submissions.CreateTx(ctx, tx, &dup); err == nil {
		t.Fatal("second submission for the same reservation should violate the unique key")
	}

	ok, err := submissions.AttachEvidenceTx(ctx, tx, sub.ID, "evidence/ab12", t0)
	if err != nil || !ok {
		t.Fatalf("attach: ok=%v err=%v", ok, err)
	}
	if ok, _ := submissions.AttachEvidenceTx(ctx, tx, sub.ID, "evidence/other", t0); ok {
		t.Fatal("attach must only apply to pending submissions")
	}
	got, err := submissions.GetForUpdateTx(ctx, tx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.SubmissionProcessing || *got.EvidenceReference != "evidence/ab12" || !got.TotalAmount.Equal(total) {
		t.Fatalf("unexpected submission: %+v", got)
	}

	m := &model.Membership{
		PoolID: p.ID, UserID: 9, ReservationID: res.ID, SubmissionID: sub.ID,
		InvestmentAmount: inv, PoolFeeAmount: fee, TotalAmount: total,
		SharePercent: decimal.RequireFromString("33.333333"), JoinedAt: t0,
	}
	if err := memberships.CreateTx(ctx, tx, m); err != nil {
		t.Fatal(err)
	}
	again := *m
	if err := memberships.CreateTx(ctx, tx, &again); err == nil {
		t.Fatal("second membership for the same reservation should violate the unique key")
	}
	list, err := memberships.ListByPoolTx(ctx, tx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].SharePercent.Equal(m.SharePercent) {
		t.Fatalf("members = %+v", list)
	}
}
