// Package services provides the persistence backends used by the handlers.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	bolt "go.etcd.io/bbolt"

	"pdfchat/internal/models"
)

// BoltDB implements the session and message stores using a BoltDB backend.
// Sessions live in a single "sessions" bucket; each session owns a dedicated
// message bucket keyed by its id. Values are JSON.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB creates a new BoltDB instance with the specified file path. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("sessions"))
		return err
	})

	return BoltDB{db: db}, err
}

// Close releases the underlying database handle.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("session-%s", sessionID))
}

// Sessions retrieves all stored sessions in reverse chronological order.
func (b BoltDB) Sessions(context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("sessions"))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var session models.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(sessions)
	return sessions, nil
}

// AddSession stores a new session and creates its message bucket. The stored
// id combines a sequence number with the session's original id so listing
// order follows creation order; the new id is returned.
func (b BoltDB) AddSession(_ context.Context, session models.Session) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("sessions"))
		if bkt == nil {
			return nil
		}

		idPrefix, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%d-%s", idPrefix, session.ID)
		session.ID = newID

		_, err = tx.CreateBucketIfNotExists(messageBucketName(session.ID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		return bkt.Put([]byte(newID), v)
	})

	return newID, err
}

// UpdateSession modifies an existing session record. If the session doesn't
// exist, the operation is silently ignored.
func (b BoltDB) UpdateSession(_ context.Context, session models.Session) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("sessions"))
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(session.ID))
		if v == nil {
			return nil
		}

		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		return bkt.Put([]byte(session.ID), v)
	})
}

// DeleteSession removes a session record and its message bucket. Deleting a
// session that doesn't exist is not an error.
func (b BoltDB) DeleteSession(_ context.Context, sessionID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("sessions"))
		if bkt == nil {
			return nil
		}

		if err := bkt.Delete([]byte(sessionID)); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}

		err := tx.DeleteBucket(messageBucketName(sessionID))
		if err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("failed to delete message bucket: %w", err)
		}
		return nil
	})
}

// SessionExists reports whether a session with the given id is stored.
func (b BoltDB) SessionExists(_ context.Context, sessionID string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("sessions"))
		if bkt == nil {
			return nil
		}
		exists = bkt.Get([]byte(sessionID)) != nil
		return nil
	})
	return exists, err
}

// GetSession retrieves a single session by id. It returns a nil session when
// the id is unknown.
func (b BoltDB) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	var session *models.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("sessions"))
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(sessionID))
		if v == nil {
			return nil
		}

		var s models.Session
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		session = &s
		return nil
	})
	return session, err
}

// Messages retrieves all messages associated with the specified session id in
// their stored order.
func (b BoltDB) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(sessionID))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage stores a new message in the session's message bucket, prefixing
// the id with a sequence number to preserve append order. The stored message
// is returned with its final id.
func (b BoltDB) AddMessage(_ context.Context, sessionID string, message models.Message) (models.Message, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(sessionID))
		if bkt == nil {
			return fmt.Errorf("unknown session: %s", sessionID)
		}

		idPrefix, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		message.ID = fmt.Sprintf("%d-%s", idPrefix, message.ID)
		message.SessionID = sessionID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put([]byte(message.ID), v)
	})

	return message, err
}
