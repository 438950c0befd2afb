package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPoolMachine(t *testing.T) {
	cases := []struct {
		from, to PoolStatus
		ok       bool
	}{
		{PoolDraft, PoolOpen, true},
		{PoolOpen, PoolFull, true},
		{PoolFull, PoolOpen, true},
		{PoolOpen, PoolActive, true},
		{PoolFull, PoolActive, true},
		{PoolActive, PoolCompleted, true},
		{PoolActive, PoolCancelled, true},
		{PoolDraft, PoolActive, false},
		{PoolOpen, PoolCompleted, false},
		{PoolCompleted, PoolActive, false},
		{PoolOpen, PoolOpen, false},
	}
	for _, tc := range cases {
		got, err := PoolMachine.Transition(tc.from, tc.to)
		if tc.ok {
			if err != nil || got != tc.to {
				t.Errorf("%s -> %s: got (%s, %v), want ok", tc.from, tc.to, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidPoolTransition) {
			t.Errorf("%s -> %s: expected ErrInvalidPoolTransition, got %v", tc.from, tc.to, err)
		}
		if got != tc.from {
			t.Errorf("%s -> %s: state changed to %s on rejected edge", tc.from, tc.to, got)
		}
	}
}

func TestReservationMachineTerminalStates(t *testing.T) {
	for _, s := range []ReservationStatus{ReservationConverted, ReservationExpired, ReservationCancelled} {
		if !ReservationMachine.Terminal(s) {
			t.Errorf("%s should be terminal", s)
		}
		if _, err := ReservationMachine.Transition(s, ReservationReserved); !errors.Is(err, ErrInvalidReservationTransition) {
			t.Errorf("%s -> reserved: expected ErrInvalidReservationTransition, got %v", s, err)
		}
	}
	if ReservationMachine.Terminal(ReservationReserved) {
		t.Error("reserved should not be terminal")
	}
}

func TestSubmissionMachine(t *testing.T) {
	if !SubmissionMachine.Can(SubmissionPending, SubmissionProcessing) {
		t.Error("pending -> processing should be allowed")
	}
	if SubmissionMachine.Can(SubmissionPending, SubmissionVerified) {
		t.Error("pending -> verified must go through processing")
	}
	if SubmissionMachine.Can(SubmissionRejected, SubmissionProcessing) {
		t.Error("rejected must stay terminal")
	}
	if _, err := SubmissionMachine.Transition(SubmissionVerified, SubmissionVerified); !errors.Is(err, ErrInvalidSubmissionTransition) {
		t.Errorf("expected ErrInvalidSubmissionTransition, got %v", err)
	}
}

func TestAmounts(t *testing.T) {
	p := &Pool{
		ContributionAmount: decimal.NewFromInt(1000),
		PoolFeePercent:     decimal.NewFromInt(5),
	}
	inv, fee, total := Amounts(p)
	if !inv.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("investment = %s, want 1000", inv)
	}
	if !fee.Equal(decimal.NewFromInt(50)) {
		t.Errorf("fee = %s, want 50", fee)
	}
	if !total.Equal(decimal.NewFromInt(1050)) {
		t.Errorf("total = %s, want 1050", total)
	}
}

func TestPublishable(t *testing.T) {
	p := Pool{
		MaxMembers:             3,
		ContributionAmount:     decimal.NewFromInt(500),
		PoolFeePercent:         decimal.NewFromFloat(2.5),
		PaymentWindowMinutes:   30,
		CoinType:               "USDT",
		AdminSettlementAddress: "TXYZ",
	}
	if !p.Publishable() {
		t.Fatal("expected complete pool to be publishable")
	}
	p.AdminSettlementAddress = ""
	if p.Publishable() {
		t.Error("pool without settlement address should not be publishable")
	}
}
