// Package codec encrypts and frames session messages under an auth key.
//
// Packet layout: auth_key_id (8, LE) | nonce (12) | AEAD ciphertext.
// Plaintext layout: salt | session_id | msg_id (8 bytes each, LE) | seq_no (4) | body_len (4) | body.
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/danmuck/mtsession/internal/protocol"
	"github.com/danmuck/mtsession/internal/protocol/msgid"
)

const (
	authKeyIDLen = 8
	innerHeader  = 8 + 8 + 8 + 4 + 4
	// MinAuthKeyLen is the shortest key NewAuthKey accepts.
	MinAuthKeyLen = 32
	// AuthKeyLen is the size produced by GenerateAuthKey.
	AuthKeyLen = 256
)

var (
	ErrShortKey         = errors.New("codec: auth key too short")
	ErrShortPacket      = errors.New("codec: packet too short")
	ErrAuthKeyMismatch  = errors.New("codec: auth key id mismatch")
	ErrDecrypt          = errors.New("codec: decryption failed")
	ErrSessionMismatch  = errors.New("codec: session id mismatch")
	ErrMsgIDParity      = errors.New("codec: message id parity mismatch")
	ErrBodyLength       = errors.New("codec: body length mismatch")
	errUnknownDirection = errors.New("codec: unknown direction")
)

// AuthKey is the long-lived key shared with the server.
type AuthKey struct {
	Key []byte
	ID  uint64
}

// NewAuthKey derives the key id from the low 8 bytes of the key's SHA-1.
func NewAuthKey(key []byte) (AuthKey, error) {
	if len(key) < MinAuthKeyLen {
		return AuthKey{}, ErrShortKey
	}
	sum := sha1.Sum(key)
	k := make([]byte, len(key))
	copy(k, key)
	return AuthKey{Key: k, ID: binary.LittleEndian.Uint64(sum[12:20])}, nil
}

// GenerateAuthKey returns a random key.
func GenerateAuthKey() (AuthKey, error) {
	key := make([]byte, AuthKeyLen)
	if _, err := rand.Read(key); err != nil {
		return AuthKey{}, err
	}
	return NewAuthKey(key)
}

// Direction selects which half of the key schedule a codec seals with.
type Direction int

const (
	Client Direction = iota
	Server
)

const (
	infoClientToServer = "mtsession client->server"
	infoServerToClient = "mtsession server->client"
)

// Packet is one decoded transport payload.
type Packet struct {
	Salt      uint64
	SessionID uint64
	Message   protocol.Message
}

// Codec packs outbound and unpacks inbound messages for one side of a connection.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	key  AuthKey
	dir  Direction
	seal cipher.AEAD
	open cipher.AEAD
}

func NewClient(key AuthKey) (*Codec, error) { return newCodec(key, Client) }

func NewServer(key AuthKey) (*Codec, error) { return newCodec(key, Server) }

func newCodec(key AuthKey, dir Direction) (*Codec, error) {
	if len(key.Key) < MinAuthKeyLen {
		return nil, ErrShortKey
	}
	c2s, err := deriveAEAD(key.Key, infoClientToServer)
	if err != nil {
		return nil, err
	}
	s2c, err := deriveAEAD(key.Key, infoServerToClient)
	if err != nil {
		return nil, err
	}
	c := &Codec{key: key, dir: dir}
	switch dir {
	case Client:
		c.seal, c.open = c2s, s2c
	case Server:
		c.seal, c.open = s2c, c2s
	default:
		return nil, errUnknownDirection
	}
	return c, nil
}

func deriveAEAD(secret []byte, info string) (cipher.AEAD, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	k := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("codec: derive key: %w", err)
	}
	return chacha20poly1305.New(k)
}

// KeyID reports the auth key id stamped on packets.
func (c *Codec) KeyID() uint64 { return c.key.ID }

// Pack encrypts m under salt and sessionID.
func (c *Codec) Pack(m protocol.Message, salt, sessionID uint64) ([]byte, error) {
	body, err := protocol.Encode(m.Body)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, innerHeader, innerHeader+len(body))
	binary.LittleEndian.PutUint64(plain[0:8], salt)
	binary.LittleEndian.PutUint64(plain[8:16], sessionID)
	binary.LittleEndian.PutUint64(plain[16:24], m.MsgID)
	binary.LittleEndian.PutUint32(plain[24:28], uint32(m.SeqNo))
	binary.LittleEndian.PutUint32(plain[28:32], uint32(len(body)))
	plain = append(plain, body...)

	prefix := make([]byte, authKeyIDLen+chacha20poly1305.NonceSize, authKeyIDLen+chacha20poly1305.NonceSize+len(plain)+c.seal.Overhead())
	binary.LittleEndian.PutUint64(prefix[:authKeyIDLen], c.key.ID)
	nonce := prefix[authKeyIDLen:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.seal.Seal(prefix, nonce, plain, prefix[:authKeyIDLen]), nil
}

// Unpack decrypts b and checks it belongs to sessionID and carries the peer's id parity.
func (c *Codec) Unpack(b []byte, sessionID uint64) (Packet, error) {
	p, err := c.UnpackAny(b)
	if err != nil {
		return Packet{}, err
	}
	if p.SessionID != sessionID {
		return Packet{}, fmt.Errorf("%w: got %d want %d", ErrSessionMismatch, p.SessionID, sessionID)
	}
	return p, nil
}

// UnpackAny decrypts b without checking the session id.
func (c *Codec) UnpackAny(b []byte) (Packet, error) {
	if len(b) < authKeyIDLen+chacha20poly1305.NonceSize+c.open.Overhead() {
		return Packet{}, ErrShortPacket
	}
	if binary.LittleEndian.Uint64(b[:authKeyIDLen]) != c.key.ID {
		return Packet{}, ErrAuthKeyMismatch
	}
	nonce := b[authKeyIDLen : authKeyIDLen+chacha20poly1305.NonceSize]
	plain, err := c.open.Open(nil, nonce, b[authKeyIDLen+chacha20poly1305.NonceSize:], b[:authKeyIDLen])
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(plain) < innerHeader {
		return Packet{}, ErrShortPacket
	}

	p := Packet{
		Salt:      binary.LittleEndian.Uint64(plain[0:8]),
		SessionID: binary.LittleEndian.Uint64(plain[8:16]),
	}
	id := binary.LittleEndian.Uint64(plain[16:24])
	if !c.peerParity(id) {
		return Packet{}, fmt.Errorf("%w: %d", ErrMsgIDParity, id)
	}
	seq := int32(binary.LittleEndian.Uint32(plain[24:28]))
	n := binary.LittleEndian.Uint32(plain[28:32])
	if uint64(n) != uint64(len(plain)-innerHeader) {
		return Packet{}, fmt.Errorf("%w: header=%d actual=%d", ErrBodyLength, n, len(plain)-innerHeader)
	}
	body, err := protocol.Decode(plain[innerHeader:])
	if err != nil {
		return Packet{}, err
	}
	p.Message = protocol.Message{MsgID: id, SeqNo: seq, Body: body}
	return p, nil
}

func (c *Codec) peerParity(id uint64) bool {
	if c.dir == Client {
		return msgid.IsServer(id)
	}
	return msgid.IsClient(id)
}
