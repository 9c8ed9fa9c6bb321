package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/service-order-auth/internal/model"
)

// maxSwapAttempts bounds the optimistic retries of RedisTokenStore.Rotate.
const maxSwapAttempts = 5

// RedisTokenStore keeps refresh tokens in Redis.  Rotation is a WATCH /
// MULTI / EXEC conditional swap: when two callers race on one id, the
// loser's EXEC fails, it retries, and then finds the row gone.  Owner-wide
// revocation also watches the owner index, so it cannot miss a sibling
// rotated concurrently.
//
// Layout under prefix:
//
//	rt:{id}          JSON record, expires with the token
//	owner:{kind:id}  set of live ids of one owner
//	consumed:{id}    owner of a rotated-away id, expires with the old token
type RedisTokenStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisTokenStore(rdb redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "auth"
	}
	return &RedisTokenStore{rdb: rdb, prefix: prefix}
}

type redisRecord struct {
	ID         string            `json:"id"`
	SecretHash string            `json:"secret_hash"`
	OwnerKind  model.Kind        `json:"owner_kind"`
	OwnerID    string            `json:"owner_id"`
	Meta       model.RefreshMeta `json:"meta"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (s *RedisTokenStore) tokenKey(id string) string    { return s.prefix + ":rt:" + id }
func (s *RedisTokenStore) consumedKey(id string) string { return s.prefix + ":consumed:" + id }
func (s *RedisTokenStore) ownerKey(o model.OwnerRef) string {
	return s.prefix + ":owner:" + o.String()
}

func encodeRecord(t model.RefreshToken) ([]byte, error) {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return json.Marshal(redisRecord{
		ID:         t.ID,
		SecretHash: t.SecretHash,
		OwnerKind:  t.Owner.Kind,
		OwnerID:    t.Owner.ID,
		Meta:       t.Meta,
		ExpiresAt:  t.ExpiresAt.UTC(),
		CreatedAt:  created.UTC(),
	})
}

func decodeRecord(b []byte) (model.RefreshToken, error) {
	var r redisRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return model.RefreshToken{}, fmt.Errorf("decode refresh record: %w", err)
	}
	return model.RefreshToken{
		ID:         r.ID,
		SecretHash: r.SecretHash,
		Owner:      model.OwnerRef{Kind: r.OwnerKind, ID: r.OwnerID},
		Meta:       r.Meta,
		ExpiresAt:  r.ExpiresAt,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func (s *RedisTokenStore) queueCreate(ctx context.Context, p redis.Pipeliner, t model.RefreshToken) error {
	b, err := encodeRecord(t)
	if err != nil {
		return err
	}
	p.Set(ctx, s.tokenKey(t.ID), b, 0)
	p.PExpireAt(ctx, s.tokenKey(t.ID), t.ExpiresAt)
	p.SAdd(ctx, s.ownerKey(t.Owner), t.ID)
	p.PExpireAt(ctx, s.ownerKey(t.Owner), t.ExpiresAt)
	return nil
}

// Create stores a refresh token.
func (s *RedisTokenStore) Create(ctx context.Context, t model.RefreshToken) error {
	var encErr error
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		encErr = s.queueCreate(ctx, p, t)
		return encErr
	})
	if encErr != nil {
		return encErr
	}
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// Get returns the token with id or ErrRefreshNotFound.
func (s *RedisTokenStore) Get(ctx context.Context, id string) (model.RefreshToken, error) {
	b, err := s.rdb.Get(ctx, s.tokenKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.RefreshToken{}, ErrRefreshNotFound
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("load refresh token: %w", err)
	}
	return decodeRecord(b)
}

// Rotate implements the same contract as TokenRepo.Rotate.
func (s *RedisTokenStore) Rotate(ctx context.Context, id string, decide DecideFunc) error {
	key := s.tokenKey(id)
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			return s.rotateOnce(ctx, tx, id, decide)
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("rotate refresh token %s: too much contention", id)
}

func (s *RedisTokenStore) rotateOnce(ctx context.Context, tx *redis.Tx, id string, decide DecideFunc) error {
	b, err := tx.Get(ctx, s.tokenKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		owner, cerr := tx.Get(ctx, s.consumedKey(id)).Result()
		if errors.Is(cerr, redis.Nil) {
			return ErrRefreshNotFound
		}
		if cerr != nil {
			return fmt.Errorf("lookup consumed token: %w", cerr)
		}
		ref, perr := model.ParseOwnerRef(owner)
		if perr != nil {
			return ErrRefreshNotFound
		}
		return &ReusedError{Owner: ref}
	}
	if err != nil {
		return fmt.Errorf("load refresh token: %w", err)
	}
	cur, err := decodeRecord(b)
	if err != nil {
		return err
	}

	dec, err := decide(cur)
	if err != nil {
		return err
	}

	var siblings []string
	if dec.Action == ActionRevokeOwner {
		// a sibling created or rotated after this point aborts the EXEC
		if err := tx.Watch(ctx, s.ownerKey(cur.Owner)).Err(); err != nil {
			return fmt.Errorf("watch owner tokens: %w", err)
		}
		siblings, err = tx.SMembers(ctx, s.ownerKey(cur.Owner)).Result()
		if err != nil {
			return fmt.Errorf("list owner tokens: %w", err)
		}
	}

	var queueErr error
	_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		switch dec.Action {
		case ActionReplace:
			p.Del(ctx, s.tokenKey(cur.ID))
			p.SRem(ctx, s.ownerKey(cur.Owner), cur.ID)
			p.Set(ctx, s.consumedKey(cur.ID), cur.Owner.String(), 0)
			p.PExpireAt(ctx, s.consumedKey(cur.ID), cur.ExpiresAt)
			queueErr = s.queueCreate(ctx, p, dec.Next)
		case ActionDelete:
			p.Del(ctx, s.tokenKey(cur.ID))
			p.SRem(ctx, s.ownerKey(cur.Owner), cur.ID)
		case ActionRevokeOwner:
			s.queueRevoke(ctx, p, cur.Owner, append(siblings, cur.ID))
		default:
			queueErr = fmt.Errorf("unknown rotate action %d", dec.Action)
		}
		return queueErr
	})
	if queueErr != nil {
		return queueErr
	}
	return err
}

// Delete removes one token.  Deleting an unknown id is not an error.
func (s *RedisTokenStore) Delete(ctx context.Context, id string) error {
	t, err := s.Get(ctx, id)
	if errors.Is(err, ErrRefreshNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.tokenKey(id))
		p.SRem(ctx, s.ownerKey(t.Owner), id)
		return nil
	})
	return err
}

// DeleteByOwner removes every token of owner.  The owner index is watched,
// so a token created or rotated for owner while the revocation runs makes
// it start over instead of leaving the newcomer alive.
func (s *RedisTokenStore) DeleteByOwner(ctx context.Context, owner model.OwnerRef) (int64, error) {
	key := s.ownerKey(owner)
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		var del *redis.IntCmd
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			ids, err := tx.SMembers(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("list owner tokens: %w", err)
			}
			if len(ids) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				del = s.queueRevoke(ctx, p, owner, ids)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("revoke owner tokens: %w", err)
		}
		if del == nil {
			return 0, nil
		}
		return del.Val(), nil
	}
	return 0, fmt.Errorf("revoke owner %s: too much contention", owner)
}

// queueRevoke deletes ids and drops exactly those ids from the owner index.
// The returned command reports how many token keys existed.
func (s *RedisTokenStore) queueRevoke(ctx context.Context, p redis.Pipeliner, owner model.OwnerRef, ids []string) *redis.IntCmd {
	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.tokenKey(id))
		members = append(members, id)
	}
	del := p.Del(ctx, keys...)
	p.SRem(ctx, s.ownerKey(owner), members...)
	return del
}

// PurgeExpired is a no-op; Redis expires keys on its own.
func (s *RedisTokenStore) PurgeExpired(context.Context) (int64, error) { return 0, nil }
