package protocol

import (
	"encoding/binary"

	"github.com/danmuck/mtsession/internal/protocol/schema"
	"github.com/danmuck/mtsession/internal/protocol/tlv"
)

const constructorSize = 4

// Encode serializes obj as a big-endian constructor id followed by its tlv fields.
func Encode(obj Object) ([]byte, error) {
	if obj == nil {
		return nil, ErrNilObject
	}
	fields, err := obj.EncodeFields()
	if err != nil {
		return nil, err
	}
	payload := tlv.EncodeFields(fields)
	out := make([]byte, constructorSize, constructorSize+len(payload))
	binary.BigEndian.PutUint32(out, obj.TypeID())
	return append(out, payload...), nil
}

// EncodeMessage serializes one container item.
func EncodeMessage(m Message) ([]byte, error) {
	body, err := NewFieldObject(schema.FieldBody, m.Body)
	if err != nil {
		return nil, err
	}
	return tlv.EncodeFields([]tlv.Field{
		NewFieldU64(schema.FieldMsgID, m.MsgID),
		NewFieldI32(schema.FieldSeqNo, m.SeqNo),
		body,
	}), nil
}
