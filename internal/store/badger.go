package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Tyrowin/gochat-dm/internal/message"
)

// BadgerStore keeps messages in BadgerDB.
//
// Records live under "dm:{low}:{high}:{created_at}:{id}" where low and
// high are the two participant IDs sorted, and created_at is zero padded
// to 19 digits, so a prefix scan over one conversation yields messages in
// chronological order. "id:{id}" points back at the record key.
type BadgerStore struct {
	db    *badger.DB
	log   *slog.Logger
	clock *clock
}

// OpenBadger opens (or creates) a BadgerDB directory. MemoryPath or an
// empty path yields an in-memory database.
func OpenBadger(path string, log *slog.Logger) (*BadgerStore, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := badger.DefaultOptions(path)
	if path == "" || path == MemoryPath {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{log: log.With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db, log: log, clock: newClock()}, nil
}

func conversationPrefix(a, b uuid.UUID) string {
	low, high := a.String(), b.String()
	if high < low {
		low, high = high, low
	}
	return "dm:" + low + ":" + high + ":"
}

func recordKey(msg message.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s",
		conversationPrefix(msg.SenderID, msg.RecipientID),
		msg.CreatedAt.UnixNano(),
		msg.ID,
	))
}

func indexKey(id uuid.UUID) []byte {
	return []byte("id:" + id.String())
}

func (s *BadgerStore) Create(ctx context.Context, senderID, recipientID uuid.UUID, content string) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, message.WrapStorage("create", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return message.Message{}, message.WrapStorage("create", err)
	}
	msg := message.Message{
		ID:          id,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   s.clock.next(),
	}
	value, err := encodeRecord(msg)
	if err != nil {
		return message.Message{}, message.WrapStorage("create", err)
	}

	key := recordKey(msg)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(id), key)
	})
	if err != nil {
		return message.Message{}, message.WrapStorage("create", err)
	}
	return msg, nil
}

func (s *BadgerStore) Get(ctx context.Context, id uuid.UUID) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, message.WrapStorage("get", err)
	}
	var msg message.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		_, msg, err = lookupRecord(txn, id)
		return err
	})
	if err != nil {
		return message.Message{}, message.WrapStorage("get", err)
	}
	return msg, nil
}

func (s *BadgerStore) ListBetween(ctx context.Context, a, b uuid.UUID) ([]message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, message.WrapStorage("list", err)
	}
	prefix := []byte(conversationPrefix(a, b))
	var messages []message.Message
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				msg, err := decodeRecord(value)
				if err != nil {
					return err
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, message.WrapStorage("list", err)
	}
	return messages, nil
}

func (s *BadgerStore) UpdateContent(ctx context.Context, id uuid.UUID, content string) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, message.WrapStorage("update", err)
	}
	var msg message.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		key, current, err := lookupRecord(txn, id)
		if err != nil {
			return err
		}
		updated := s.clock.next()
		current.Content = content
		current.UpdatedAt = &updated
		value, err := encodeRecord(current)
		if err != nil {
			return err
		}
		msg = current
		return txn.Set(key, value)
	})
	if err != nil {
		return message.Message{}, message.WrapStorage("update", err)
	}
	return msg, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return message.WrapStorage("delete", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		key, _, err := lookupRecord(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
	return message.WrapStorage("delete", err)
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return message.WrapStorage("ping", badger.ErrDBClosed)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// lookupRecord resolves the id index and loads the record it points at.
func lookupRecord(txn *badger.Txn, id uuid.UUID) ([]byte, message.Message, error) {
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, message.Message{}, message.ErrNotFound
	}
	if err != nil {
		return nil, message.Message{}, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, message.Message{}, err
	}

	item, err = txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, message.Message{}, message.ErrNotFound
	}
	if err != nil {
		return nil, message.Message{}, err
	}
	var msg message.Message
	err = item.Value(func(value []byte) error {
		msg, err = decodeRecord(value)
		return err
	})
	return key, msg, err
}

// badgerLogger routes BadgerDB's internal logging through slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
