package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	deliveriesBucket = "deliveries"
	openTimeout      = time.Second
)

type boltLedger struct {
	db *bolt.DB
}

func NewBolt(path string) (Ledger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(deliveriesBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create ledger bucket: %w", err)
	}

	return &boltLedger{db: db}, nil
}

func (l *boltLedger) Seen(_ context.Context, messageID string) (bool, error) {
	var seen bool

	err := l.db.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket([]byte(deliveriesBucket)).Get([]byte(messageID)) != nil
		return nil
	})

	return seen, err
}

func (l *boltLedger) Claim(_ context.Context, messageID string, entry Entry) (bool, error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	var claimed bool

	err = l.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(deliveriesBucket))
		if bkt.Get([]byte(messageID)) != nil {
			return nil
		}

		claimed = true
		return bkt.Put([]byte(messageID), value)
	})

	return claimed, err
}

func (l *boltLedger) Record(_ context.Context, messageID string, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(deliveriesBucket)).Put([]byte(messageID), value)
	})
}

func (l *boltLedger) Release(_ context.Context, messageID string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(deliveriesBucket))

		v := bkt.Get([]byte(messageID))
		if v == nil {
			return nil
		}

		var entry Entry
		if err := json.Unmarshal(v, &entry); err != nil || entry.ExitCode != PendingExitCode {
			return nil
		}

		return bkt.Delete([]byte(messageID))
	})
}

// Prune removes entries delivered before the cutoff. Unreadable entries go too.
func (l *boltLedger) Prune(_ context.Context, before time.Time) (int, error) {
	var removed int

	err := l.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(deliveriesBucket))

		var stale [][]byte
		if err := bkt.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil || entry.DeliveredAt.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}

		removed = len(stale)
		return nil
	})

	return removed, err
}

func (l *boltLedger) Close() error {
	return l.db.Close()
}
