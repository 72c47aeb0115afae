package protocol

import (
	"encoding/binary"

	"github.com/danmuck/mtsession/internal/protocol/schema"
	"github.com/danmuck/mtsession/internal/protocol/tlv"
)

// Decode reads one object. Constructors outside the service set decode to *Generic.
func Decode(b []byte) (Object, error) {
	if len(b) < constructorSize {
		return nil, ErrTruncated
	}
	ctor := binary.BigEndian.Uint32(b[:constructorSize])
	fields, err := tlv.DecodeFields(b[constructorSize:])
	if err != nil {
		return nil, err
	}
	if !schema.Known(ctor) {
		return &Generic{ID: ctor, Fields: fields}, nil
	}
	if err := schema.Validate(ctor, fields); err != nil {
		return nil, err
	}
	return decodeKnown(ctor, &fieldReader{fields: fields})
}

func decodeKnown(ctor uint32, r *fieldReader) (Object, error) {
	var obj Object
	switch ctor {
	case schema.CtorPing:
		obj = &Ping{PingID: r.i64(schema.FieldPingID)}
	case schema.CtorPingDelayDisconnect:
		obj = &PingDelayDisconnect{
			PingID:          r.i64(schema.FieldPingID),
			DisconnectDelay: r.i32(schema.FieldDisconnectDelay),
		}
	case schema.CtorPong:
		obj = &Pong{MsgID: r.u64(schema.FieldMsgID), PingID: r.i64(schema.FieldPingID)}
	case schema.CtorRpcResult:
		obj = &RpcResult{ReqMsgID: r.u64(schema.FieldReqMsgID), Result: r.object(schema.FieldResult)}
	case schema.CtorRpcError:
		obj = &RpcError{ErrorCode: r.i32(schema.FieldErrorCode), ErrorMessage: r.str(schema.FieldErrorMessage)}
	case schema.CtorBadMsgNotification:
		obj = &BadMsgNotification{
			BadMsgID:    r.u64(schema.FieldBadMsgID),
			BadMsgSeqNo: r.i32(schema.FieldBadMsgSeqNo),
			ErrorCode:   r.i32(schema.FieldErrorCode),
		}
	case schema.CtorBadServerSalt:
		obj = &BadServerSalt{
			BadMsgID:      r.u64(schema.FieldBadMsgID),
			BadMsgSeqNo:   r.i32(schema.FieldBadMsgSeqNo),
			ErrorCode:     r.i32(schema.FieldErrorCode),
			NewServerSalt: r.u64(schema.FieldNewServerSalt),
		}
	case schema.CtorMsgDetailedInfo:
		obj = &MsgDetailedInfo{
			MsgID:       r.u64(schema.FieldMsgID),
			AnswerMsgID: r.u64(schema.FieldAnswerMsgID),
			Bytes:       r.i32(schema.FieldBytes),
			Status:      r.i32(schema.FieldStatus),
		}
	case schema.CtorMsgNewDetailedInfo:
		obj = &MsgNewDetailedInfo{
			AnswerMsgID: r.u64(schema.FieldAnswerMsgID),
			Bytes:       r.i32(schema.FieldBytes),
			Status:      r.i32(schema.FieldStatus),
		}
	case schema.CtorNewSessionCreated:
		obj = &NewSessionCreated{
			FirstMsgID: r.u64(schema.FieldFirstMsgID),
			UniqueID:   r.u64(schema.FieldUniqueID),
			ServerSalt: r.u64(schema.FieldServerSalt),
		}
	case schema.CtorFutureSalts:
		obj = decodeFutureSalts(r)
	case schema.CtorFutureSalt:
		obj = &FutureSalt{
			ValidSince: r.i32(schema.FieldValidSince),
			ValidUntil: r.i32(schema.FieldValidUntil),
			Salt:       r.u64(schema.FieldSalt),
		}
	case schema.CtorGetFutureSalts:
		obj = &GetFutureSalts{Num: r.i32(schema.FieldNum)}
	case schema.CtorMsgsAck:
		obj = &MsgsAck{MsgIDs: r.u64List(schema.FieldMsgIDs)}
	case schema.CtorMsgContainer:
		obj = decodeContainer(r)
	case schema.CtorGzipPacked:
		packed := r.bytes(schema.FieldPackedData)
		if r.err != nil {
			return nil, r.err
		}
		inner, err := gzipDecompress(packed)
		if err != nil {
			return nil, err
		}
		return Decode(inner)
	case schema.CtorInvokeWithLayer:
		obj = &InvokeWithLayer{Layer: r.i32(schema.FieldLayer), Query: r.object(schema.FieldQuery)}
	case schema.CtorInitConnection:
		obj = &InitConnection{
			APIID:          r.i32(schema.FieldAPIID),
			DeviceModel:    r.str(schema.FieldDeviceModel),
			SystemVersion:  r.str(schema.FieldSystemVersion),
			AppVersion:     r.str(schema.FieldAppVersion),
			SystemLangCode: r.str(schema.FieldSystemLangCode),
			LangPack:       r.str(schema.FieldLangPack),
			LangCode:       r.str(schema.FieldLangCode),
			Query:          r.object(schema.FieldQuery),
		}
	case schema.CtorInvokeWithoutUpdates:
		obj = &InvokeWithoutUpdates{Query: r.object(schema.FieldQuery)}
	case schema.CtorInvokeWithTakeout:
		obj = &InvokeWithTakeout{TakeoutID: r.i64(schema.FieldTakeoutID), Query: r.object(schema.FieldQuery)}
	case schema.CtorHelpGetConfig:
		obj = &HelpGetConfig{}
	default:
		obj = &Generic{ID: ctor, Fields: r.fields}
	}
	if r.err != nil {
		return nil, r.err
	}
	return obj, nil
}

func decodeFutureSalts(r *fieldReader) Object {
	out := &FutureSalts{ReqMsgID: r.u64(schema.FieldReqMsgID), Now: r.i32(schema.FieldNow)}
	for _, item := range r.list(schema.FieldSalts) {
		obj, err := Decode(item)
		if err != nil {
			r.err = err
			return nil
		}
		salt, ok := obj.(*FutureSalt)
		if !ok {
			r.err = ErrFieldTypeMismatch
			return nil
		}
		out.Salts = append(out.Salts, *salt)
	}
	return out
}

func decodeContainer(r *fieldReader) Object {
	out := &MsgContainer{}
	for _, item := range r.list(schema.FieldMessages) {
		m, err := DecodeMessage(item)
		if err != nil {
			r.err = err
			return nil
		}
		if _, nested := m.Body.(*MsgContainer); nested {
			r.err = ErrNestedContainer
			return nil
		}
		out.Messages = append(out.Messages, m)
	}
	return out
}

// DecodeMessage reads one container item.
func DecodeMessage(b []byte) (Message, error) {
	fields, err := tlv.DecodeFields(b)
	if err != nil {
		return Message{}, err
	}
	r := &fieldReader{fields: fields}
	m := Message{
		MsgID: r.u64(schema.FieldMsgID),
		SeqNo: r.i32(schema.FieldSeqNo),
		Body:  r.object(schema.FieldBody),
	}
	if r.err != nil {
		return Message{}, r.err
	}
	return m, nil
}
