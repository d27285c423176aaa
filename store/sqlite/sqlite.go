// Package sqlite is the durable reference implementation of the engine's
// IdentityProvider and DocumentStore contracts, backed by a single SQLite
// database file.
package sqlite

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Store implements securenote.IdentityProvider and securenote.DocumentStore
// over one SQLite database. Safe for concurrent use; SQLite serializes
// writers internally.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database at dsn (e.g. "file:securenote.db" or
// ":memory:") and creates the schema when missing.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single in-memory database must not be reopened per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`create table if not exists identities(
		ID              text not null primary key,
		Username        text not null unique,
		Email           text not null unique,
		PasswordHash    text not null,
		Role            tinyint not null default 0,
		Status          tinyint not null default 0,
		TOTPSecret      blob null,
		TOTPEnabled     tinyint not null default 0,
		TOTPLastCounter integer not null default -1,
		AccountVersion  integer not null default 1,
		PublicKey       blob not null,
		PrivateKey      blob not null,
		CreatedAt       DATETIME not null,
		UpdatedAt       DATETIME not null
	)`)
	if err != nil {
		return fmt.Errorf("creating identities table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists verification_requests(
		ID         text not null primary key,
		IdentityID text not null references identities(ID),
		Status     tinyint not null default 0,
		Reason     text not null default '',
		CreatedAt  DATETIME not null,
		DecidedAt  DATETIME null
	)`)
	if err != nil {
		return fmt.Errorf("creating verification_requests table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists documents(
		ID              text not null primary key,
		OwnerID         text not null references identities(ID),
		Ciphertext      blob not null,
		OwnerWrappedKey blob not null,
		Format          tinyint not null default 0,
		Tags            text not null default '[]',
		Pinned          tinyint not null default 0,
		Version         integer not null default 1,
		CreatedAt       DATETIME not null,
		UpdatedAt       DATETIME not null
	)`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists grants(
		DocumentID  text not null references documents(ID),
		RecipientID text not null references identities(ID),
		Tier        tinyint not null,
		WrappedKey  blob not null,
		CreatedAt   DATETIME not null,
		primary key (DocumentID, RecipientID)
	)`)
	if err != nil {
		return fmt.Errorf("creating grants table: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
