package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/infrastructure/resilience"
)

func newStoreWithMock(t *testing.T) (*EntityStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &EntityStore{db: db}, mock, func() { _ = db.Close() }
}

func TestLookupNormalizesCitationBeforeQuerying(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{"id", "canonical", "kind"}).
		AddRow("ent-1", "Art. 5 GDPR", "statute")

	mock.ExpectQuery("SELECT e.id, e.canonical, e.kind").
		WithArgs("art 5 of the gdpr").
		WillReturnRows(rows)

	entity, err := store.Lookup(context.Background(), "Art. 5 of the GDPR")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if entity.ID != "ent-1" || entity.Kind != "statute" {
		t.Fatalf("unexpected entity: %+v", entity)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLookupReturnsDomainNotFound(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT e.id, e.canonical, e.kind").
		WithArgs("art 99 of nowhere").
		WillReturnRows(sqlmock.NewRows([]string{"id", "canonical", "kind"}))

	_, err := store.Lookup(context.Background(), "Art. 99 of Nowhere")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestLookupWrapsDriverErrorsAsTemporary(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT e.id, e.canonical, e.kind").
		WillReturnError(context.DeadlineExceeded)

	_, err := store.Lookup(context.Background(), "Case No. C-131/12")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestLookupRetriesTemporaryDriverError(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()
	store.SetResilienceExecutor(resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1.0,
		BreakerEnabled:      false,
	}, nil))

	mock.ExpectQuery("SELECT e.id, e.canonical, e.kind").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery("SELECT e.id, e.canonical, e.kind").
		WithArgs("art 5 of the gdpr").
		WillReturnRows(sqlmock.NewRows([]string{"id", "canonical", "kind"}).
			AddRow("ent-1", "Art. 5 GDPR", "statute"))

	entity, err := store.Lookup(context.Background(), "Art. 5 of the GDPR")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if entity.ID != "ent-1" {
		t.Fatalf("unexpected entity: %+v", entity)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLookupDoesNotRetryNotFound(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()
	store.SetResilienceExecutor(resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1.0,
		BreakerEnabled:      false,
	}, nil))

	mock.ExpectQuery("SELECT e.id, e.canonical, e.kind").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Lookup(context.Background(), "Art. 99 of Statute X")
	if !domain.IsKind(err, domain.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("a clean not-found must issue exactly one query: %v", err)
	}
}

func TestNormalizeAlias(t *testing.T) {
	cases := map[string]string{
		"Art. 5 of the GDPR": "art 5 of the gdpr",
		"Case No. C-131/12":  "case no c 131 12",
		"  §  823 BGB ":      "823 bgb",
	}
	for in, want := range cases {
		if got := normalizeAlias(in); got != want {
			t.Fatalf("normalizeAlias(%q) = %q, want %q", in, got, want)
		}
	}
}
