package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/service-order-auth/internal/model"
)

const selectRefresh = `SELECT id, secret_hash, owner_kind, owner_id, meta, expires_at, created_at FROM refresh_tokens`

// TokenRepo persists refresh tokens in MySQL.  Rotation runs inside a
// transaction holding a row lock on the presented id, so concurrent
// rotations of one token are serialized and exactly one of them can replace
// it.
type TokenRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func NewTokenRepo(db *sql.DB) *TokenRepo {
	return &TokenRepo{DB: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a refresh token row.
func (r *TokenRepo) Create(ctx context.Context, t model.RefreshToken) error {
	return insertRefresh(ctx, r.DB, t)
}

// Get returns the row with id or ErrRefreshNotFound.
func (r *TokenRepo) Get(ctx context.Context, id string) (model.RefreshToken, error) {
	t, err := scanRefresh(r.DB.QueryRowContext(ctx, selectRefresh+" WHERE id = ? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, ErrRefreshNotFound
	}
	return t, err
}

// Rotate locks the row with id, lets decide choose an action and applies it
// in the same transaction.  An unknown id that was consumed by an earlier
// rotation yields a *ReusedError; an unknown id otherwise yields
// ErrRefreshNotFound.
func (r *TokenRepo) Rotate(ctx context.Context, id string, decide DecideFunc) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	cur, err := scanRefresh(tx.QueryRowContext(ctx, selectRefresh+" WHERE id = ? FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		var kind, ownerID string
		err = tx.QueryRowContext(ctx,
			"SELECT owner_kind, owner_id FROM refresh_token_consumed WHERE id = ? AND expires_at > ? LIMIT 1",
			id, r.now()).Scan(&kind, &ownerID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRefreshNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup consumed token: %w", err)
		}
		return &ReusedError{Owner: model.OwnerRef{Kind: model.Kind(kind), ID: ownerID}}
	}
	if err != nil {
		return fmt.Errorf("lock refresh token: %w", err)
	}

	dec, err := decide(cur)
	if err != nil {
		return err
	}
	switch dec.Action {
	case ActionReplace:
		if err := insertRefresh(ctx, tx, dec.Next); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id = ?", cur.ID); err != nil {
			return fmt.Errorf("delete rotated token: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO refresh_token_consumed (id, owner_kind, owner_id, expires_at, consumed_at) VALUES (?,?,?,?,?)",
			cur.ID, string(cur.Owner.Kind), cur.Owner.ID, cur.ExpiresAt.UTC(), r.now()); err != nil {
			return fmt.Errorf("record consumed token: %w", err)
		}
	case ActionDelete:
		if _, err := tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id = ?", cur.ID); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
	case ActionRevokeOwner:
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM refresh_tokens WHERE owner_kind = ? AND owner_id = ?",
			string(cur.Owner.Kind), cur.Owner.ID); err != nil {
			return fmt.Errorf("revoke owner tokens: %w", err)
		}
	default:
		return fmt.Errorf("unknown rotate action %d", dec.Action)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	committed = true
	return nil
}

// Delete removes one row.  Deleting an unknown id is not an error.
func (r *TokenRepo) Delete(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id = ?", id)
	return err
}

// DeleteByOwner removes every row of owner and returns how many went away.
func (r *TokenRepo) DeleteByOwner(ctx context.Context, owner model.OwnerRef) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE owner_kind = ? AND owner_id = ?",
		string(owner.Kind), owner.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpired deletes expired refresh rows and consumed-id records.
func (r *TokenRepo) PurgeExpired(ctx context.Context) (int64, error) {
	now := r.now()
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	res, err = r.DB.ExecContext(ctx, "DELETE FROM refresh_token_consumed WHERE expires_at <= ?", now)
	if err != nil {
		return n, err
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefresh(ctx context.Context, db execer, t model.RefreshToken) error {
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return err
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (id, secret_hash, owner_kind, owner_id, meta, expires_at, created_at) VALUES (?,?,?,?,?,?,?)",
		t.ID, t.SecretHash, string(t.Owner.Kind), t.Owner.ID, meta, t.ExpiresAt.UTC(), created.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func scanRefresh(row *sql.Row) (model.RefreshToken, error) {
	var (
		t    model.RefreshToken
		kind string
		meta []byte
	)
	if err := row.Scan(&t.ID, &t.SecretHash, &kind, &t.Owner.ID, &meta, &t.ExpiresAt, &t.CreatedAt); err != nil {
		return model.RefreshToken{}, err
	}
	t.Owner.Kind = model.Kind(kind)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Meta); err != nil {
			return model.RefreshToken{}, fmt.Errorf("decode refresh meta: %w", err)
		}
	}
	return t, nil
}
