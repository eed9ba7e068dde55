package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/skyegpt/skyegpt-web/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB keeps the stand-in backend's conversations and the feedback submitted for them. Every
// conversation gets its own feedback bucket, so listing the feedback of one conversation never scans
// the others.
type BoltDB struct {
	db *bolt.DB
}

// ErrConversationNotFound is returned when feedback targets a conversation that was never created.
var ErrConversationNotFound = errors.New("conversation not found")

var conversationsBucket = []byte("conversations")

type storedConversation struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})

	return BoltDB{db: db}, err
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func feedbackBucketName(conversationID string) []byte {
	return []byte(fmt.Sprintf("feedback-%s", conversationID))
}

// AddConversation stores a new conversation and creates its feedback bucket. The id combines a sequence
// number with a random part, so ids sort in creation order.
func (b BoltDB) AddConversation(_ context.Context, createdAt int64) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		if b == nil {
			return nil
		}

		idPrefix, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%d-%s", idPrefix, uuid.NewString())

		if _, err := tx.CreateBucketIfNotExists(feedbackBucketName(newID)); err != nil {
			return fmt.Errorf("failed to create feedback bucket: %w", err)
		}

		v, err := json.Marshal(storedConversation{ID: newID, CreatedAt: createdAt})
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		return b.Put([]byte(newID), v)
	})

	return newID, err
}

// AddFeedback stores a feedback record for an existing conversation and returns the record's id.
func (b BoltDB) AddFeedback(_ context.Context, fb models.StoredFeedback) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(feedbackBucketName(fb.ConversationID))
		if b == nil {
			return ErrConversationNotFound
		}

		idPrefix, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		// Zero padding keeps the byte order of keys equal to the insertion order.
		newID = fmt.Sprintf("%08d", idPrefix)
		fb.ID = newID

		v, err := json.Marshal(fb)
		if err != nil {
			return fmt.Errorf("failed to marshal feedback: %w", err)
		}

		return b.Put([]byte(newID), v)
	})

	return newID, err
}

// Feedback returns the feedback records of a conversation in submission order.
func (b BoltDB) Feedback(_ context.Context, conversationID string) ([]models.StoredFeedback, error) {
	records := []models.StoredFeedback{}
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(feedbackBucketName(conversationID))
		if b == nil {
			return ErrConversationNotFound
		}

		return b.ForEach(func(_, v []byte) error {
			var fb models.StoredFeedback
			if err := json.Unmarshal(v, &fb); err != nil {
				return fmt.Errorf("failed to unmarshal feedback: %w", err)
			}
			records = append(records, fb)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
