package schema

import (
	"testing"

	"github.com/danmuck/mtsession/internal/protocol/tlv"
	"github.com/danmuck/mtsession/internal/testutil/testlog"
)

func i32(v byte) []byte { return []byte{0, 0, 0, v} }

func u64(v byte) []byte { return []byte{0, 0, 0, 0, 0, 0, 0, v} }

func TestValidateBadServerSaltRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		{ID: FieldBadMsgID, Type: tlv.TypeU64, Value: u64(8)},
		{ID: FieldBadMsgSeqNo, Type: tlv.TypeI32, Value: i32(1)},
		{ID: FieldErrorCode, Type: tlv.TypeI32, Value: i32(48)},
		{ID: FieldNewServerSalt, Type: tlv.TypeU64, Value: u64(7)},
	}
	if err := Validate(CtorBadServerSalt, fields); err != nil {
		t.Fatalf("validate bad_server_salt: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		{ID: FieldPingID, Type: tlv.TypeI64, Value: u64(1)},
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(CtorPing, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{{ID: FieldErrorCode, Type: tlv.TypeI32, Value: i32(4)}}
	err := Validate(CtorRpcError, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldErrorMessage || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		{ID: FieldReqMsgID, Type: tlv.TypeU32, Value: i32(1)},
		{ID: FieldResult, Type: tlv.TypeObject, Value: []byte{}},
	}
	err := Validate(CtorRpcResult, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldReqMsgID || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownConstructor(t *testing.T) {
	testlog.Start(t)
	if Known(0xdeadbeef) {
		t.Fatalf("unexpected known constructor")
	}
	err := Validate(0xdeadbeef, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown constructor" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetConfigHasNoRequiredFields(t *testing.T) {
	testlog.Start(t)
	if err := Validate(CtorHelpGetConfig, nil); err != nil {
		t.Fatalf("validate help.getConfig: %v", err)
	}
}
