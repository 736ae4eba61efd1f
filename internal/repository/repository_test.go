package repository

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rhernandezbas/splynx-tickets/internal/model"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "mysql")), mock
}

func TestCreateIncident_DuplicateIsNotError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO incidents").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	outcome, err := repo.CreateIncident(&model.Incident{CreatedAtRaw: "2026-03-01 10:00:00"})
	if err != nil {
		t.Fatalf("CreateIncident returned error for duplicate key: %v", err)
	}
	if outcome != Duplicate {
		t.Fatalf("expected Duplicate outcome, got %v", outcome)
	}
}

func TestCreateIncident_Created(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO incidents").
		WillReturnResult(sqlmock.NewResult(42, 1))

	inc := &model.Incident{CreatedAtRaw: "2026-03-01 10:00:00"}
	outcome, err := repo.CreateIncident(inc)
	if err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}
	if outcome != Created {
		t.Fatalf("expected Created outcome, got %v", outcome)
	}
	if inc.ID != 42 {
		t.Fatalf("expected ID 42, got %d", inc.ID)
	}
}

func TestIncrementCounter(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO assignment_counters").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.IncrementCounter(7, time.Now()); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
