package store

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/Tyrowin/gochat-dm/internal/message"
)

// record is the on-disk shape of a message in BadgerDB. Timestamps are
// kept as Unix nanoseconds so that no precision is lost.
type record struct {
	ID          string `cbor:"1,keyasint"`
	SenderID    string `cbor:"2,keyasint"`
	RecipientID string `cbor:"3,keyasint"`
	Content     string `cbor:"4,keyasint"`
	CreatedAt   int64  `cbor:"5,keyasint"`
	UpdatedAt   *int64 `cbor:"6,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
}

func encodeRecord(msg message.Message) ([]byte, error) {
	rec := record{
		ID:          msg.ID.String(),
		SenderID:    msg.SenderID.String(),
		RecipientID: msg.RecipientID.String(),
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt.UnixNano(),
	}
	if msg.UpdatedAt != nil {
		updated := msg.UpdatedAt.UnixNano()
		rec.UpdatedAt = &updated
	}
	return encMode.Marshal(rec)
}

func decodeRecord(data []byte) (message.Message, error) {
	var rec record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return message.Message{}, err
	}
	return rec.toMessage()
}

func (r record) toMessage() (message.Message, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return message.Message{}, err
	}
	sender, err := uuid.Parse(r.SenderID)
	if err != nil {
		return message.Message{}, err
	}
	recipient, err := uuid.Parse(r.RecipientID)
	if err != nil {
		return message.Message{}, err
	}
	msg := message.Message{
		ID:          id,
		SenderID:    sender,
		RecipientID: recipient,
		Content:     r.Content,
		CreatedAt:   fromUnixNano(r.CreatedAt),
	}
	if r.UpdatedAt != nil {
		updated := fromUnixNano(*r.UpdatedAt)
		msg.UpdatedAt = &updated
	}
	return msg, nil
}
