// Package miio implements the device transport: the miIO UDP wire protocol
// (encrypted JSON-RPC in 32-byte-headed datagrams), a client with
// request/response matching, and a reference-counted shared handle so every
// accessory in the process reuses one socket.
package miio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	packetMagic = 0x2131
	headerSize  = 32
)

// rpcRequest is the JSON-RPC body carried inside a packet.
type rpcRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// rpcResponse is the device's JSON-RPC reply.
type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// rpcError is the device-reported failure inside a reply.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
}

// packet is a decoded miIO datagram.
type packet struct {
	DeviceID uint32
	Stamp    uint32
	Payload  []byte
}

// cipherState holds the AES key/iv derived from the device token:
// key = md5(token), iv = md5(key || token).
type cipherState struct {
	key [16]byte
	iv  [16]byte
}

func newCipherState(token [16]byte) cipherState {
	key := md5.Sum(token[:])
	iv := md5.Sum(append(key[:], token[:]...))
	return cipherState{key: key, iv: iv}
}

func (c cipherState) encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv[:]).CryptBlocks(out, padded)
	return out, nil
}

func (c cipherState) decrypt(enc []byte) ([]byte, error) {
	if len(enc) == 0 || len(enc)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a block multiple", len(enc))
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(enc))
	cipher.NewCBCDecrypter(block, c.iv[:]).CryptBlocks(out, enc)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", pad)
	}
	return data[:len(data)-pad], nil
}

// buildHello builds the unauthenticated discovery datagram. The device
// answers with its ID and clock stamp, which every later request must echo.
func buildHello() []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], packetMagic)
	binary.BigEndian.PutUint16(buf[2:4], headerSize)
	for i := 4; i < headerSize; i++ {
		buf[i] = 0xff
	}
	return buf
}

// encodePacket wraps an encrypted payload in a checksummed header.
func encodePacket(token [16]byte, cs cipherState, deviceID, stamp uint32, payload []byte) ([]byte, error) {
	enc, err := cs.encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}

	buf := make([]byte, headerSize+len(enc))
	binary.BigEndian.PutUint16(buf[0:2], packetMagic)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[8:12], deviceID)
	binary.BigEndian.PutUint32(buf[12:16], stamp)

	// Checksum is md5 over the packet with the token in the digest field.
	copy(buf[16:headerSize], token[:])
	copy(buf[headerSize:], enc)
	sum := md5.Sum(buf)
	copy(buf[16:headerSize], sum[:])
	return buf, nil
}

// decodePacket validates and decrypts one datagram. A 32-byte packet is a
// hello reply and carries no payload.
func decodePacket(token [16]byte, cs cipherState, data []byte) (*packet, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("packet too short: %d bytes", len(data))
	}
	if binary.BigEndian.Uint16(data[0:2]) != packetMagic {
		return nil, fmt.Errorf("bad packet magic %#x", data[0:2])
	}
	if int(binary.BigEndian.Uint16(data[2:4])) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d, got %d",
			binary.BigEndian.Uint16(data[2:4]), len(data))
	}

	p := &packet{
		DeviceID: binary.BigEndian.Uint32(data[8:12]),
		Stamp:    binary.BigEndian.Uint32(data[12:16]),
	}
	if len(data) == headerSize {
		return p, nil
	}

	var digest [16]byte
	copy(digest[:], data[16:headerSize])
	check := make([]byte, len(data))
	copy(check, data)
	copy(check[16:headerSize], token[:])
	if sum := md5.Sum(check); sum != digest {
		return nil, fmt.Errorf("packet checksum mismatch")
	}

	payload, err := cs.decrypt(data[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	p.Payload = payload
	return p, nil
}
