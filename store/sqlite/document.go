package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/StealthMoud/securenote"
)

type documentRow struct {
	ID              string    `db:"ID"`
	OwnerID         string    `db:"OwnerID"`
	Ciphertext      []byte    `db:"Ciphertext"`
	OwnerWrappedKey []byte    `db:"OwnerWrappedKey"`
	Format          uint8     `db:"Format"`
	Tags            string    `db:"Tags"`
	Pinned          bool      `db:"Pinned"`
	Version         uint64    `db:"Version"`
	CreatedAt       time.Time `db:"CreatedAt"`
	UpdatedAt       time.Time `db:"UpdatedAt"`
}

type grantRow struct {
	DocumentID  string    `db:"DocumentID"`
	RecipientID string    `db:"RecipientID"`
	Tier        uint8     `db:"Tier"`
	WrappedKey  []byte    `db:"WrappedKey"`
	CreatedAt   time.Time `db:"CreatedAt"`
}

func (r *grantRow) grant() securenote.ShareGrant {
	return securenote.ShareGrant{
		DocumentID:  r.DocumentID,
		RecipientID: r.RecipientID,
		Tier:        securenote.Tier(r.Tier),
		WrappedKey:  r.WrappedKey,
		CreatedAt:   r.CreatedAt,
	}
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(encoded string) ([]string, error) {
	if encoded == "" || encoded == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(encoded), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return tags, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc *securenote.DocumentRecord) error {
	tags, err := encodeTags(doc.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into documents
		 (ID, OwnerID, Ciphertext, OwnerWrappedKey, Format, Tags, Pinned, Version, CreatedAt, UpdatedAt)
		 values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocumentID, doc.OwnerID, doc.Ciphertext, doc.OwnerWrappedKey,
		uint8(doc.Format), tags, doc.Pinned, doc.Version,
		doc.CreatedAt.UTC(), doc.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, documentID string) (*securenote.DocumentRecord, error) {
	row := documentRow{}
	err := s.db.GetContext(ctx, &row,
		`select * from documents where ID = ?`, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, securenote.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("fetching document: %w", err)
	}

	tags, err := decodeTags(row.Tags)
	if err != nil {
		return nil, err
	}

	grantRows := []grantRow{}
	err = s.db.SelectContext(ctx, &grantRows,
		`select * from grants where DocumentID = ? order by CreatedAt`, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetching grants: %w", err)
	}
	grants := make([]securenote.ShareGrant, len(grantRows))
	for i := range grantRows {
		grants[i] = grantRows[i].grant()
	}

	return &securenote.DocumentRecord{
		DocumentID:      row.ID,
		OwnerID:         row.OwnerID,
		Ciphertext:      row.Ciphertext,
		OwnerWrappedKey: row.OwnerWrappedKey,
		Format:          securenote.Format(row.Format),
		Tags:            tags,
		Pinned:          row.Pinned,
		Version:         row.Version,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		Grants:          grants,
	}, nil
}

// ReplaceDocument swaps ciphertext, owner key, metadata, and the full grant
// set in one transaction. The update is guarded by expectedVersion; a
// concurrent edit that committed first leaves zero rows affected and the
// whole transaction rolls back with ErrDocumentConflict.
func (s *Store) ReplaceDocument(ctx context.Context, doc *securenote.DocumentRecord, expectedVersion uint64) error {
	tags, err := encodeTags(doc.Tags)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update documents
		 set Ciphertext = ?, OwnerWrappedKey = ?, Format = ?, Tags = ?,
		     Pinned = ?, Version = ?, UpdatedAt = ?
		 where ID = ? and Version = ?`,
		doc.Ciphertext, doc.OwnerWrappedKey, uint8(doc.Format), tags,
		doc.Pinned, doc.Version, doc.UpdatedAt.UTC(),
		doc.DocumentID, expectedVersion)
	if err != nil {
		return fmt.Errorf("replacing document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replacing document: %w", err)
	}
	if n == 0 {
		// Either the document is gone or another writer advanced the
		// version first.
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			`select exists(select 1 from documents where ID = ?)`, doc.DocumentID); err != nil {
			return fmt.Errorf("replacing document: %w", err)
		}
		if !exists {
			return securenote.ErrDocumentNotFound
		}
		return securenote.ErrDocumentConflict
	}

	if _, err := tx.ExecContext(ctx,
		`delete from grants where DocumentID = ?`, doc.DocumentID); err != nil {
		return fmt.Errorf("replacing grants: %w", err)
	}
	for i := range doc.Grants {
		g := &doc.Grants[i]
		if _, err := tx.ExecContext(ctx,
			`insert into grants (DocumentID, RecipientID, Tier, WrappedKey, CreatedAt)
			 values (?, ?, ?, ?, ?)`,
			doc.DocumentID, g.RecipientID, uint8(g.Tier), g.WrappedKey, g.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("replacing grants: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replace: %w", err)
	}
	return nil
}

func (s *Store) AddGrant(ctx context.Context, documentID string, grant *securenote.ShareGrant) error {
	_, err := s.db.ExecContext(ctx,
		`insert into grants (DocumentID, RecipientID, Tier, WrappedKey, CreatedAt)
		 values (?, ?, ?, ?, ?)`,
		documentID, grant.RecipientID, uint8(grant.Tier), grant.WrappedKey, grant.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return securenote.ErrGrantExists
		}
		return fmt.Errorf("adding grant: %w", err)
	}
	return nil
}

func (s *Store) UpdateGrantTier(ctx context.Context, documentID, recipientID string, tier securenote.Tier) error {
	res, err := s.db.ExecContext(ctx,
		`update grants set Tier = ? where DocumentID = ? and RecipientID = ?`,
		uint8(tier), documentID, recipientID)
	if err != nil {
		return fmt.Errorf("updating grant tier: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating grant tier: %w", err)
	}
	if n == 0 {
		return securenote.ErrGrantNotFound
	}
	return nil
}

func (s *Store) DeleteGrant(ctx context.Context, documentID, recipientID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from grants where DocumentID = ? and RecipientID = ?`,
		documentID, recipientID)
	if err != nil {
		return false, fmt.Errorf("deleting grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting grant: %w", err)
	}
	return n > 0, nil
}

// DeleteDocument removes the document and cascades its grants.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`delete from grants where DocumentID = ?`, documentID); err != nil {
		return fmt.Errorf("deleting grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from documents where ID = ?`, documentID); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}
