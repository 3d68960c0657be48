package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

const sessionKeyPrefix = "session/"

// SessionStore persists the device update session as a single record, so
// every save replaces the whole session atomically.
type SessionStore struct {
	kv  KVEngine
	key []byte
}

// NewSessionStore creates a store for the session named name.
func NewSessionStore(kv KVEngine, name string) *SessionStore {
	if name == "" {
		name = "default"
	}
	return &SessionStore{kv: kv, key: []byte(sessionKeyPrefix + name)}
}

// Load returns the stored session, or nil when none was saved yet.
func (s *SessionStore) Load(ctx context.Context) (*domain.UpdateSession, error) {
	sess, err := getRecord[domain.UpdateSession](ctx, s.kv, s.key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	return sess, err
}

// Save replaces the stored session. It fails if the stored revision is not
// the one sess was derived from, and bumps sess.Revision on success.
func (s *SessionStore) Save(ctx context.Context, sess *domain.UpdateSession) error {
	next := *sess
	next.Revision++
	err := s.kv.Update(ctx, func(tx Txn) error {
		data, err := tx.Get(s.key)
		switch {
		case err == nil:
			var current domain.UpdateSession
			if err := Unmarshal(data, &current); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			if current.Revision != sess.Revision {
				return fmt.Errorf("session revision conflict: stored %d, saving %d", current.Revision, sess.Revision)
			}
		case errors.Is(err, ErrKeyNotFound):
		default:
			return err
		}

		return putRecord(tx, s.key, &next)
	})
	if err != nil {
		return err
	}
	sess.Revision = next.Revision
	return nil
}
