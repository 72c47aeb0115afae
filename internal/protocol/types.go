package protocol

import (
	"fmt"

	"github.com/danmuck/mtsession/internal/protocol/schema"
	"github.com/danmuck/mtsession/internal/protocol/tlv"
)

// Layer is the API layer announced by invokeWithLayer.
const Layer int32 = 181

// Object is one serializable protocol object.
type Object interface {
	TypeID() uint32
	TypeName() string
	EncodeFields() ([]tlv.Field, error)
}

// Message pairs a body with its message id and sequence number.
type Message struct {
	MsgID uint64
	SeqNo int32
	Body  Object
}

// ContentRelated reports whether the sender expects an acknowledgement.
func (m Message) ContentRelated() bool {
	return m.SeqNo%2 != 0
}

type Ping struct {
	PingID int64
}

func (*Ping) TypeID() uint32   { return schema.CtorPing }
func (*Ping) TypeName() string { return "Ping" }
func (o *Ping) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{NewFieldI64(schema.FieldPingID, o.PingID)}, nil
}

type PingDelayDisconnect struct {
	PingID          int64
	DisconnectDelay int32
}

func (*PingDelayDisconnect) TypeID() uint32   { return schema.CtorPingDelayDisconnect }
func (*PingDelayDisconnect) TypeName() string { return "PingDelayDisconnect" }
func (o *PingDelayDisconnect) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{
		NewFieldI64(schema.FieldPingID, o.PingID),
		NewFieldI32(schema.FieldDisconnectDelay, o.DisconnectDelay),
	}, nil
}

type Pong struct {
	MsgID  uint64
	PingID int64
}

func (*Pong) TypeID() uint32   { return schema.CtorPong }
func (*Pong) TypeName() string { return "Pong" }
func (o *Pong) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{
		NewFieldU64(schema.FieldMsgID, o.MsgID),
		NewFieldI64(schema.FieldPingID, o.PingID),
	}, nil
}

// RpcResult answers the request with id ReqMsgID.
type RpcResult struct {
	ReqMsgID uint64
	Result   Object
}

func (*RpcResult) TypeID() uint32   { return schema.CtorRpcResult }
func (*RpcResult) TypeName() string { return "RpcResult" }
func (o *RpcResult) EncodeFields() ([]tlv.Field, error) {
	result, err := NewFieldObject(schema.FieldResult, o.Result)
	if err != nil {
		return nil, err
	}
	return []tlv.Field{NewFieldU64(schema.FieldReqMsgID, o.ReqMsgID), result}, nil
}

type RpcError struct {
	ErrorCode    int32
	ErrorMessage string
}

func (*RpcError) TypeID() uint32   { return schema.CtorRpcError }
func (*RpcError) TypeName() string { return "RpcError" }
func (o *RpcError) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{
		NewFieldI32(schema.FieldErrorCode, o.ErrorCode),
		NewFieldString(schema.FieldErrorMessage, o.ErrorMessage),
	}, nil
}

type BadMsgNotification struct {
	BadMsgID    uint64
	BadMsgSeqNo int32
	ErrorCode   int32
}

func (*BadMsgNotification) TypeID() uint32   { return schema.CtorBadMsgNotification }
func (*BadMsgNotification) TypeName() string { return "BadMsgNotification" }
func (o *BadMsgNotification) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{
		NewFieldU64(schema.FieldBadMsgID, o.BadMsgID),
		NewFieldI32(schema.FieldBadMsgSeqNo, o.BadMsgSeqNo),
		NewFieldI32(schema.FieldErrorCode, o.ErrorCode),
	}, nil
}

type BadServerSalt struct {
	BadMsgID      uint64
	BadMsgSeqNo   int32
	ErrorCode     int32
	NewServerSalt uint64
}

func (*BadServerSalt) TypeID() uint32   { return schema.CtorBadServerSalt }
func (*BadServerSalt) TypeName() string { return "BadServerSalt" }
func (o *BadServerSalt) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{
		NewFieldU64(schema.FieldBadMsgID, o.BadMsgID),
		NewFieldI32(schema.FieldBadMsgSeqNo, o.BadMsgSeqNo),
		NewFieldI32(schema.FieldErrorCode, o.ErrorCode),
		NewFieldU64(schema.FieldNewServerSalt, o.NewServerSalt),
	}, nil
}

type MsgDetailedInfo struct {
	MsgID       uint64
	AnswerMsgID uint64
	Bytes       int32
	Status      int32
}

func (*MsgDetailedInfo) TypeID() uint32   { return schema.CtorMsgDetailedInfo }
func (*MsgDetailedInfo) TypeName() string { return "MsgDetailedInfo" }
func (o *MsgDetailedInfo) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{
		NewFieldU64(schema.FieldMsgID, o.MsgID),
		NewFieldU64(schema.FieldAnswerMsgID, o.AnswerMsgID),
		NewFieldI32(schema.FieldBytes, o.Bytes),
		NewFieldI32(schema.FieldStatus, o.Status),
	}, nil
}

type MsgNewDetailedInfo struct {
	AnswerMsgID uint64
	Bytes       int32
	Status      int32
}

func (*MsgNewDetailedInfo) TypeID() uint32   { return schema.CtorMsgNewDetailedInfo }
func (*MsgNewDetailedInfo) TypeName() string { return "MsgNewDetailedInfo" }
func (o *MsgNewDetailedInfo) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{
		NewFieldU64(schema.FieldAnswerMsgID, o.AnswerMsgID),
		NewFieldI32(schema.FieldBytes, o.Bytes),
		NewFieldI32(schema.FieldStatus, o.Status),
	}, nil
}

type NewSessionCreated struct {
	FirstMsgID uint64
	UniqueID   uint64
	ServerSalt uint64
}

func (*NewSessionCreated) TypeID() uint32   { return schema.CtorNewSessionCreated }
func (*NewSessionCreated) TypeName() string { return "NewSessionCreated" }
func (o *NewSessionCreated) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{
		NewFieldU64(schema.FieldFirstMsgID, o.FirstMsgID),
		NewFieldU64(schema.FieldUniqueID, o.UniqueID),
		NewFieldU64(schema.FieldServerSalt, o.ServerSalt),
	}, nil
}

type FutureSalt struct {
	ValidSince int32
	ValidUntil int32
	Salt       uint64
}

func (*FutureSalt) TypeID() uint32   { return schema.CtorFutureSalt }
func (*FutureSalt) TypeName() string { return "FutureSalt" }
func (o *FutureSalt) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{
		NewFieldI32(schema.FieldValidSince, o.ValidSince),
		NewFieldI32(schema.FieldValidUntil, o.ValidUntil),
		NewFieldU64(schema.FieldSalt, o.Salt),
	}, nil
}

type FutureSalts struct {
	ReqMsgID uint64
	Now      int32
	Salts    []FutureSalt
}

func (*FutureSalts) TypeID() uint32   { return schema.CtorFutureSalts }
func (*FutureSalts) TypeName() string { return "FutureSalts" }
func (o *FutureSalts) EncodeFields() ([]tlv.Field, error) {
	items := make([][]byte, 0, len(o.Salts))
	for i := range o.Salts {
		b, err := Encode(&o.Salts[i])
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return []tlv.Field{
		NewFieldU64(schema.FieldReqMsgID, o.ReqMsgID),
		NewFieldI32(schema.FieldNow, o.Now),
		{ID: schema.FieldSalts, Type: tlv.TypeList, Value: tlv.EncodeList(items)},
	}, nil
}

type GetFutureSalts struct {
	Num int32
}

func (*GetFutureSalts) TypeID() uint32   { return schema.CtorGetFutureSalts }
func (*GetFutureSalts) TypeName() string { return "GetFutureSalts" }
func (o *GetFutureSalts) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{NewFieldI32(schema.FieldNum, o.Num)}, nil
}

type MsgsAck struct {
	MsgIDs []uint64
}

func (*MsgsAck) TypeID() uint32   { return schema.CtorMsgsAck }
func (*MsgsAck) TypeName() string { return "MsgsAck" }
func (o *MsgsAck) EncodeFields() ([]tlv.Field, error) {
	return []tlv.Field{NewFieldU64List(schema.FieldMsgIDs, o.MsgIDs)}, nil
}

// MsgContainer batches several messages into one envelope. Containers do not nest.
type MsgContainer struct {
	Messages []Message
}

func (*MsgContainer) TypeID() uint32   { return schema.CtorMsgContainer }
func (*MsgContainer) TypeName() string { return "MsgContainer" }
func (o *MsgContainer) EncodeFields() ([]tlv.Field, error) {
	items := make([][]byte, 0, len(o.Messages))
	for _, m := range o.Messages {
		if _, ok := m.Body.(*MsgContainer); ok {
			return nil, ErrNestedContainer
		}
		b, err := EncodeMessage(m)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return []tlv.Field{{ID: schema.FieldMessages, Type: tlv.TypeList, Value: tlv.EncodeList(items)}}, nil
}

// GzipPacked compresses Packed on the wire. Decoding never yields a GzipPacked;
// the inner object is returned instead.
type GzipPacked struct {
	Packed Object
}

func (*GzipPacked) TypeID() uint32   { return schema.CtorGzipPacked }
func (*GzipPacked) TypeName() string { return "GzipPacked" }
func (o *GzipPacked) EncodeFields() ([]tlv.Field, error) {
	inner, err := Encode(o.Packed)
	if err != nil {
		return nil, err
	}
	packed, err := gzipCompress(inner)
	if err != nil {
		return nil, err
	}
	return []tlv.Field{{ID: schema.FieldPackedData, Type: tlv.TypeBytes, Value: packed}}, nil
}

type InvokeWithLayer struct {
	Layer int32
	Query Object
}

func (*InvokeWithLayer) TypeID() uint32   { return schema.CtorInvokeWithLayer }
func (*InvokeWithLayer) TypeName() string { return "InvokeWithLayer" }
func (o *InvokeWithLayer) EncodeFields() ([]tlv.Field, error) {
	query, err := NewFieldObject(schema.FieldQuery, o.Query)
	if err != nil {
		return nil, err
	}
	return []tlv.Field{NewFieldI32(schema.FieldLayer, o.Layer), query}, nil
}

type InitConnection struct {
	APIID          int32
	DeviceModel    string
	SystemVersion  string
	AppVersion     string
	SystemLangCode string
	LangPack       string
	LangCode       string
	Query          Object
}

func (*InitConnection) TypeID() uint32   { return schema.CtorInitConnection }
func (*InitConnection) TypeName() string { return "InitConnection" }
func (o *InitConnection) EncodeFields() ([]tlv.Field, error) {
	query, err := NewFieldObject(schema.FieldQuery, o.Query)
	if err != nil {
		return nil, err
	}
	return []tlv.Field{
		NewFieldI32(schema.FieldAPIID, o.APIID),
		NewFieldString(schema.FieldDeviceModel, o.DeviceModel),
		NewFieldString(schema.FieldSystemVersion, o.SystemVersion),
		NewFieldString(schema.FieldAppVersion, o.AppVersion),
		NewFieldString(schema.FieldSystemLangCode, o.SystemLangCode),
		NewFieldString(schema.FieldLangPack, o.LangPack),
		NewFieldString(schema.FieldLangCode, o.LangCode),
		query,
	}, nil
}

type InvokeWithoutUpdates struct {
	Query Object
}

func (*InvokeWithoutUpdates) TypeID() uint32   { return schema.CtorInvokeWithoutUpdates }
func (*InvokeWithoutUpdates) TypeName() string { return "InvokeWithoutUpdates" }
func (o *InvokeWithoutUpdates) EncodeFields() ([]tlv.Field, error) {
	query, err := NewFieldObject(schema.FieldQuery, o.Query)
	if err != nil {
		return nil, err
	}
	return []tlv.Field{query}, nil
}

type InvokeWithTakeout struct {
	TakeoutID int64
	Query     Object
}

func (*InvokeWithTakeout) TypeID() uint32   { return schema.CtorInvokeWithTakeout }
func (*InvokeWithTakeout) TypeName() string { return "InvokeWithTakeout" }
func (o *InvokeWithTakeout) EncodeFields() ([]tlv.Field, error) {
	query, err := NewFieldObject(schema.FieldQuery, o.Query)
	if err != nil {
		return nil, err
	}
	return []tlv.Field{NewFieldI64(schema.FieldTakeoutID, o.TakeoutID), query}, nil
}

type HelpGetConfig struct{}

func (*HelpGetConfig) TypeID() uint32                     { return schema.CtorHelpGetConfig }
func (*HelpGetConfig) TypeName() string                   { return "help.GetConfig" }
func (*HelpGetConfig) EncodeFields() ([]tlv.Field, error) { return nil, nil }

// Generic carries any constructor outside the service set, field for field.
type Generic struct {
	ID     uint32
	Name   string
	Fields []tlv.Field
}

func (o *Generic) TypeID() uint32 { return o.ID }

func (o *Generic) TypeName() string {
	if o.Name != "" {
		return o.Name
	}
	return fmt.Sprintf("0x%08x", o.ID)
}

func (o *Generic) EncodeFields() ([]tlv.Field, error) {
	return o.Fields, nil
}

// Unwrap returns the innermost query of invokeWithoutUpdates/invokeWithTakeout
// wrappers, so error attribution names the call the user made.
func Unwrap(obj Object) Object {
	for {
		switch o := obj.(type) {
		case *InvokeWithoutUpdates:
			obj = o.Query
		case *InvokeWithTakeout:
			obj = o.Query
		default:
			return obj
		}
	}
}
