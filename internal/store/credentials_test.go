package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func credentialRows(version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"access_token", "refresh_token", "issued_at",
		"access_expires_at", "refresh_expires_at", "version",
	}).AddRow("access", "refresh", memNow, memNow.Add(30*time.Minute), memNow.Add(7*24*time.Hour), version)
}

func TestCredentialStoreLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewCredentialStore(db)

	mock.ExpectQuery("SELECT access_token, refresh_token").
		WithArgs("acct").
		WillReturnRows(credentialRows(3))

	cred, err := s.Load(context.Background(), "acct")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cred.Version != 3 || cred.AccessToken != "access" {
		t.Errorf("Unexpected credential: %+v", cred)
	}

	mock.ExpectQuery("SELECT access_token, refresh_token").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"access_token", "refresh_token", "issued_at",
			"access_expires_at", "refresh_expires_at", "version",
		}))

	if _, err := s.Load(context.Background(), "missing"); !errors.Is(err, ErrNotSeeded) {
		t.Errorf("Expected ErrNotSeeded, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCredentialStoreCompareAndSwap(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewCredentialStore(db)

	cred := memCredential()

	mock.ExpectExec("UPDATE broker_credentials").
		WithArgs(cred.AccessToken, cred.RefreshToken, cred.IssuedAt,
			cred.AccessExpiresAt, cred.RefreshExpiresAt, int64(4), "acct", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	saved, err := s.CompareAndSwap(context.Background(), "acct", 3, cred)
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if saved.Version != 4 {
		t.Errorf("Expected version 4, got %d", saved.Version)
	}

	// Zero rows updated means another writer already bumped the version.
	mock.ExpectExec("UPDATE broker_credentials").
		WithArgs(cred.AccessToken, cred.RefreshToken, cred.IssuedAt,
			cred.AccessExpiresAt, cred.RefreshExpiresAt, int64(4), "acct", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := s.CompareAndSwap(context.Background(), "acct", 3, cred); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCredentialStoreSeed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewCredentialStore(db)
	s.now = func() time.Time { return memNow }

	cred := memCredential()

	// Non-force seed over a live credential is rejected before any write.
	mock.ExpectQuery("SELECT access_token, refresh_token").
		WithArgs("acct").
		WillReturnRows(credentialRows(2))

	if _, err := s.Seed(context.Background(), "acct", cred, false); !errors.Is(err, ErrAlreadySeeded) {
		t.Fatalf("Expected ErrAlreadySeeded, got %v", err)
	}

	// Forced seed upserts and re-reads the resulting version.
	mock.ExpectExec("INSERT INTO broker_credentials").
		WithArgs("acct", cred.AccessToken, cred.RefreshToken, cred.IssuedAt,
			cred.AccessExpiresAt, cred.RefreshExpiresAt, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT access_token, refresh_token").
		WithArgs("acct").
		WillReturnRows(credentialRows(3))

	saved, err := s.Seed(context.Background(), "acct", cred, true)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if saved.Version != 3 {
		t.Errorf("Expected upserted version 3, got %d", saved.Version)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
