// Package codec encrypts and decrypts camera message payloads.
//
// The scheme is fixed by deployed firmware: the AES-128 key is the raw MD5
// digest of the device's secret (its WiFi network name), blocks are encrypted
// in ECB mode, and the JSON plaintext is right-padded with ASCII spaces to the
// block size. There is no authentication and no IV. Devices with no known
// secret use a shared fallback secret.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"camlink/internal/protocol"
)

// DefaultSecret is the fallback secret baked into camera firmware.
const DefaultSecret = "SGHome"

const blockSize = aes.BlockSize

// DecodeError reports a payload that could not be turned back into JSON.
// Callers drop the frame and continue.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Codec is safe for concurrent use; it holds no per-call state.
type Codec struct {
	fallback string
}

// New returns a codec that substitutes fallback for empty secrets. An empty
// fallback selects DefaultSecret.
func New(fallback string) *Codec {
	if fallback == "" {
		fallback = DefaultSecret
	}
	return &Codec{fallback: fallback}
}

// Fallback returns the secret used when a device has none registered.
func (c *Codec) Fallback() string { return c.fallback }

// Encrypt serializes msg to JSON and encrypts it with the key derived from
// secret.
func (c *Codec) Encrypt(msg any, secret string) ([]byte, error) {
	plain, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return c.EncryptRaw(plain, secret)
}

// EncryptRaw encrypts an already serialized plaintext.
func (c *Codec) EncryptRaw(plain []byte, secret string) ([]byte, error) {
	block, err := aes.NewCipher(c.key(secret))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	n := len(plain)
	if rem := n % blockSize; rem != 0 {
		n += blockSize - rem
	}
	// An empty plaintext still produces nothing; firmware never sends one.
	buf := make([]byte, n)
	copy(buf, plain)
	for i := len(plain); i < n; i++ {
		buf[i] = ' '
	}

	out := make([]byte, n)
	for off := 0; off < n; off += blockSize {
		block.Encrypt(out[off:off+blockSize], buf[off:off+blockSize])
	}
	return out, nil
}

// Decrypt returns the JSON plaintext with surrounding padding removed.
func (c *Codec) Decrypt(data []byte, secret string) ([]byte, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	if len(data)%blockSize != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("length %d is not a multiple of %d", len(data), blockSize)}
	}
	block, err := aes.NewCipher(c.key(secret))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	out := make([]byte, len(data))
	for off := 0; off < len(data); off += blockSize {
		block.Decrypt(out[off:off+blockSize], data[off:off+blockSize])
	}

	// Firmware trims every control byte and space on both ends, not just
	// the space padding.
	plain := bytes.TrimFunc(out, func(r rune) bool { return r <= ' ' })
	if !utf8.Valid(plain) {
		return nil, &DecodeError{Reason: "invalid utf-8"}
	}
	if !json.Valid(plain) {
		return nil, &DecodeError{Reason: "invalid json"}
	}
	return plain, nil
}

// DecryptEnvelope decrypts data and parses its code/time header. The raw
// plaintext is returned for code-specific decoding.
func (c *Codec) DecryptEnvelope(data []byte, secret string) (code int, ts int64, plain []byte, err error) {
	plain, err = c.Decrypt(data, secret)
	if err != nil {
		return 0, 0, nil, err
	}
	code, ts, err = protocol.ParseEnvelope(plain)
	if err != nil {
		return 0, 0, nil, &DecodeError{Reason: "envelope", Err: err}
	}
	return code, ts, plain, nil
}

func (c *Codec) key(secret string) []byte {
	if secret == "" {
		secret = c.fallback
	}
	sum := md5.Sum([]byte(secret))
	return sum[:]
}
