package schema

import (
	"fmt"

	"github.com/danmuck/mtsession/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Constructor IDs of the service objects the session layer understands.
const (
	CtorPing                 uint32 = 0x7abe77ec
	CtorPingDelayDisconnect  uint32 = 0xf3427b8c
	CtorPong                 uint32 = 0x347773c5
	CtorRpcResult            uint32 = 0xf35c6d01
	CtorRpcError             uint32 = 0x2144ca19
	CtorBadMsgNotification   uint32 = 0xa7eff811
	CtorBadServerSalt        uint32 = 0xedab447b
	CtorMsgDetailedInfo      uint32 = 0x276d3ec6
	CtorMsgNewDetailedInfo   uint32 = 0x809db6df
	CtorNewSessionCreated    uint32 = 0x9ec20908
	CtorFutureSalts          uint32 = 0xae500895
	CtorFutureSalt           uint32 = 0x0949d9dc
	CtorGetFutureSalts       uint32 = 0xb921bd04
	CtorMsgsAck              uint32 = 0x62d6b459
	CtorMsgContainer         uint32 = 0x73f1f8dc
	CtorGzipPacked           uint32 = 0x3072cfa1
	CtorInvokeWithLayer      uint32 = 0xda9b0d0d
	CtorInitConnection       uint32 = 0xc1cd5ea9
	CtorInvokeWithoutUpdates uint32 = 0xbf9459b7
	CtorInvokeWithTakeout    uint32 = 0xaca9fd2e
	CtorHelpGetConfig        uint32 = 0xc4f9186b
)

// Field IDs shared across constructors.
const (
	FieldPingID          uint16 = 1
	FieldDisconnectDelay uint16 = 2
	FieldMsgID           uint16 = 3
	FieldReqMsgID        uint16 = 4
	FieldResult          uint16 = 5
	FieldErrorCode       uint16 = 6
	FieldErrorMessage    uint16 = 7
	FieldBadMsgID        uint16 = 8
	FieldBadMsgSeqNo     uint16 = 9
	FieldNewServerSalt   uint16 = 10
	FieldAnswerMsgID     uint16 = 11
	FieldBytes           uint16 = 12
	FieldStatus          uint16 = 13
	FieldFirstMsgID      uint16 = 14
	FieldUniqueID        uint16 = 15
	FieldServerSalt      uint16 = 16
	FieldNow             uint16 = 17
	FieldSalts           uint16 = 18
	FieldValidSince      uint16 = 19
	FieldValidUntil      uint16 = 20
	FieldSalt            uint16 = 21
	FieldNum             uint16 = 22
	FieldMsgIDs          uint16 = 23
	FieldMessages        uint16 = 24
	FieldPackedData      uint16 = 25
	FieldLayer           uint16 = 26
	FieldQuery           uint16 = 27
	FieldAPIID           uint16 = 28
	FieldDeviceModel     uint16 = 29
	FieldSystemVersion   uint16 = 30
	FieldAppVersion      uint16 = 31
	FieldSystemLangCode  uint16 = 32
	FieldLangPack        uint16 = 33
	FieldLangCode        uint16 = 34
	FieldTakeoutID       uint16 = 35
	FieldSeqNo           uint16 = 36
	FieldBody            uint16 = 37
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	Constructor uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: constructor=0x%08x: %s", e.Constructor, e.Reason)
	}
	return fmt.Sprintf("schema: constructor=0x%08x field=%d: %s", e.Constructor, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	CtorPing: {
		{FieldPingID, tlv.TypeI64},
	},
	CtorPingDelayDisconnect: {
		{FieldPingID, tlv.TypeI64},
		{FieldDisconnectDelay, tlv.TypeI32},
	},
	CtorPong: {
		{FieldMsgID, tlv.TypeU64},
		{FieldPingID, tlv.TypeI64},
	},
	CtorRpcResult: {
		{FieldReqMsgID, tlv.TypeU64},
		{FieldResult, tlv.TypeObject},
	},
	CtorRpcError: {
		{FieldErrorCode, tlv.TypeI32},
		{FieldErrorMessage, tlv.TypeString},
	},
	CtorBadMsgNotification: {
		{FieldBadMsgID, tlv.TypeU64},
		{FieldBadMsgSeqNo, tlv.TypeI32},
		{FieldErrorCode, tlv.TypeI32},
	},
	CtorBadServerSalt: {
		{FieldBadMsgID, tlv.TypeU64},
		{FieldBadMsgSeqNo, tlv.TypeI32},
		{FieldErrorCode, tlv.TypeI32},
		{FieldNewServerSalt, tlv.TypeU64},
	},
	CtorMsgDetailedInfo: {
		{FieldMsgID, tlv.TypeU64},
		{FieldAnswerMsgID, tlv.TypeU64},
		{FieldBytes, tlv.TypeI32},
		{FieldStatus, tlv.TypeI32},
	},
	CtorMsgNewDetailedInfo: {
		{FieldAnswerMsgID, tlv.TypeU64},
		{FieldBytes, tlv.TypeI32},
		{FieldStatus, tlv.TypeI32},
	},
	CtorNewSessionCreated: {
		{FieldFirstMsgID, tlv.TypeU64},
		{FieldUniqueID, tlv.TypeU64},
		{FieldServerSalt, tlv.TypeU64},
	},
	CtorFutureSalts: {
		{FieldReqMsgID, tlv.TypeU64},
		{FieldNow, tlv.TypeI32},
		{FieldSalts, tlv.TypeList},
	},
	CtorFutureSalt: {
		{FieldValidSince, tlv.TypeI32},
		{FieldValidUntil, tlv.TypeI32},
		{FieldSalt, tlv.TypeU64},
	},
	CtorGetFutureSalts: {
		{FieldNum, tlv.TypeI32},
	},
	CtorMsgsAck: {
		{FieldMsgIDs, tlv.TypeList},
	},
	CtorMsgContainer: {
		{FieldMessages, tlv.TypeList},
	},
	CtorGzipPacked: {
		{FieldPackedData, tlv.TypeBytes},
	},
	CtorInvokeWithLayer: {
		{FieldLayer, tlv.TypeI32},
		{FieldQuery, tlv.TypeObject},
	},
	CtorInitConnection: {
		{FieldAPIID, tlv.TypeI32},
		{FieldDeviceModel, tlv.TypeString},
		{FieldSystemVersion, tlv.TypeString},
		{FieldAppVersion, tlv.TypeString},
		{FieldSystemLangCode, tlv.TypeString},
		{FieldLangPack, tlv.TypeString},
		{FieldLangCode, tlv.TypeString},
		{FieldQuery, tlv.TypeObject},
	},
	CtorInvokeWithoutUpdates: {
		{FieldQuery, tlv.TypeObject},
	},
	CtorInvokeWithTakeout: {
		{FieldTakeoutID, tlv.TypeI64},
		{FieldQuery, tlv.TypeObject},
	},
	CtorHelpGetConfig: {},
}

// Known reports whether the constructor has a registered field contract.
func Known(constructor uint32) bool {
	_, ok := requirements[constructor]
	return ok
}

// Validate enforces required fields and required field types for a constructor.
// Unknown fields are ignored.
func Validate(constructor uint32, fields []tlv.Field) error {
	reqs, ok := requirements[constructor]
	if !ok {
		log.Debug().Msgf("schema.Validate unknown constructor=0x%08x", constructor)
		return ValidationError{Constructor: constructor, Reason: "unknown constructor"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().Msgf(
				"schema.Validate missing field constructor=0x%08x field_id=%d",
				constructor,
				req.ID,
			)
			return ValidationError{Constructor: constructor, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().Msgf(
				"schema.Validate type mismatch constructor=0x%08x field_id=%d got=%d want=%d",
				constructor,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{Constructor: constructor, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
