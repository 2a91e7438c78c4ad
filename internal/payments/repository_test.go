package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

func TestCreateMapsUniqueViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	p := &Payment{
		ConsultationID: uuid.New(),
		UserID:         1,
		Provider:       ProviderClick,
		AmountTiyin:    5_000_000,
		Currency:       "UZS",
	}
	mock.ExpectQuery("INSERT INTO payments").
		WithArgs(pgxmock.AnyArg(), p.ConsultationID, p.UserID, p.Provider, p.AmountTiyin, p.Currency).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "payments_active_consultation_idx"})

	repo := NewRepositoryWithDB(mock)
	if err := repo.Create(context.Background(), p); !errors.Is(err, ErrActivePaymentExists) {
		t.Fatalf("expected ErrActivePaymentExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCompleteIsCompareAndSwap(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE payments").
		WithArgs(id, "txn-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE payments").
		WithArgs(id, "txn-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewRepositoryWithDB(mock)
	performed, err := repo.Complete(context.Background(), id, "txn-1")
	if err != nil || !performed {
		t.Fatalf("first complete: performed=%v err=%v", performed, err)
	}
	performed, err = repo.Complete(context.Background(), id, "txn-1")
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if performed {
		t.Fatal("duplicate complete must report no rows")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkProcessingIsCompareAndSwap(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE payments").
		WithArgs(id, "txn-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE payments").
		WithArgs(id, "txn-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewRepositoryWithDB(mock)
	moved, err := repo.MarkProcessing(context.Background(), id, "txn-1")
	if err != nil || !moved {
		t.Fatalf("first mark: moved=%v err=%v", moved, err)
	}
	moved, err = repo.MarkProcessing(context.Background(), id, "txn-1")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if moved {
		t.Fatal("redelivered create must report no rows")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkProcessingMapsDuplicateTxn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE payments").
		WithArgs(id, "txn-1").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_payments_provider_txn"})

	repo := NewRepositoryWithDB(mock)
	if _, err := repo.MarkProcessing(context.Background(), id, "txn-1"); !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimRefundSingleWinner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE payments").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE payments").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewRepositoryWithDB(mock)
	won, err := repo.ClaimRefund(context.Background(), id)
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}
	won, err = repo.ClaimRefund(context.Background(), id)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatal("second claimant must lose")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	repo := NewRepositoryWithDB(mock)
	if _, err := repo.GetByID(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStalePending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	cutoff := time.Now().Add(-time.Hour)
	id := uuid.New()
	consultationID := uuid.New()
	rows := pgxmock.NewRows([]string{
		"id", "consultation_id", "user_id", "provider", "amount_tiyin", "currency", "status",
		"provider_transaction_id", "refund_transaction_id", "created_at", "updated_at", "paid_at", "refunded_at",
	}).AddRow(id, consultationID, int64(1), Provider("click"), int64(5_000_000), "UZS", Status("pending"),
		nil, nil, time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour), nil, nil)

	mock.ExpectQuery("SELECT").
		WithArgs(cutoff, 100).
		WillReturnRows(rows)

	repo := NewRepositoryWithDB(mock)
	stale, err := repo.StalePending(context.Background(), cutoff, 100)
	if err != nil {
		t.Fatalf("StalePending: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != id {
		t.Fatalf("stale = %+v", stale)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
