package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/mtsession/internal/protocol/tlv"
)

// NewFieldI32 creates an int32 TLV field.
func NewFieldI32(id uint16, v int32) tlv.Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(v))
	return tlv.Field{ID: id, Type: tlv.TypeI32, Value: buf}
}

// NewFieldI64 creates an int64 TLV field.
func NewFieldI64(id uint16, v int64) tlv.Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return tlv.Field{ID: id, Type: tlv.TypeI64, Value: buf}
}

// NewFieldU64 creates a uint64 TLV field.
func NewFieldU64(id uint16, v uint64) tlv.Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return tlv.Field{ID: id, Type: tlv.TypeU64, Value: buf}
}

// NewFieldString creates a string TLV field.
func NewFieldString(id uint16, v string) tlv.Field {
	return tlv.Field{ID: id, Type: tlv.TypeString, Value: []byte(v)}
}

// NewFieldBytes creates a bytes TLV field.
func NewFieldBytes(id uint16, v []byte) tlv.Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return tlv.Field{ID: id, Type: tlv.TypeBytes, Value: buf}
}

// NewFieldObject creates a field holding one encoded object.
func NewFieldObject(id uint16, obj Object) (tlv.Field, error) {
	b, err := Encode(obj)
	if err != nil {
		return tlv.Field{}, err
	}
	return tlv.Field{ID: id, Type: tlv.TypeObject, Value: b}, nil
}

// NewFieldU64List creates a list field of uint64 values.
func NewFieldU64List(id uint16, vs []uint64) tlv.Field {
	items := make([][]byte, len(vs))
	for i, v := range vs {
		items[i] = make([]byte, 8)
		binary.BigEndian.PutUint64(items[i], v)
	}
	return tlv.Field{ID: id, Type: tlv.TypeList, Value: tlv.EncodeList(items)}
}

// fieldReader pulls typed values out of decoded fields and keeps the first error.
type fieldReader struct {
	fields []tlv.Field
	err    error
}

func (r *fieldReader) get(id uint16, typ uint8) []byte {
	if r.err != nil {
		return nil
	}
	f, ok := tlv.GetField(r.fields, id)
	if !ok {
		r.err = fmt.Errorf("%w: %d", ErrMissingField, id)
		return nil
	}
	if f.Type != typ {
		r.err = fmt.Errorf("%w: field %d got %d want %d", ErrFieldTypeMismatch, id, f.Type, typ)
		return nil
	}
	return f.Value
}

func (r *fieldReader) fixed(id uint16, typ uint8, size int) []byte {
	b := r.get(id, typ)
	if r.err != nil {
		return nil
	}
	if len(b) != size {
		r.err = fmt.Errorf("%w: field %d has %d bytes", ErrInvalidLength, id, len(b))
		return nil
	}
	return b
}

func (r *fieldReader) i32(id uint16) int32 {
	b := r.fixed(id, tlv.TypeI32, 4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *fieldReader) i64(id uint16) int64 {
	b := r.fixed(id, tlv.TypeI64, 8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *fieldReader) u64(id uint16) uint64 {
	b := r.fixed(id, tlv.TypeU64, 8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *fieldReader) str(id uint16) string {
	return string(r.get(id, tlv.TypeString))
}

func (r *fieldReader) bytes(id uint16) []byte {
	return r.get(id, tlv.TypeBytes)
}

func (r *fieldReader) object(id uint16) Object {
	b := r.get(id, tlv.TypeObject)
	if r.err != nil {
		return nil
	}
	obj, err := Decode(b)
	if err != nil {
		r.err = err
		return nil
	}
	return obj
}

func (r *fieldReader) list(id uint16) [][]byte {
	b := r.get(id, tlv.TypeList)
	if r.err != nil {
		return nil
	}
	items, err := tlv.DecodeList(b)
	if err != nil {
		r.err = err
		return nil
	}
	return items
}

func (r *fieldReader) u64List(id uint16) []uint64 {
	items := r.list(id)
	if r.err != nil {
		return nil
	}
	out := make([]uint64, 0, len(items))
	for _, item := range items {
		v, err := tlv.U64FromBytes(item)
		if err != nil {
			r.err = err
			return nil
		}
		out = append(out, v)
	}
	return out
}
