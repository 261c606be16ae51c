package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
)

func TestKnownVectorFallbackSecret(t *testing.T) {
	c := New("")
	msg := map[string]any{"code": 11, "time": 1700000000}

	got, err := c.Encrypt(msg, "")
	if err != nil {
		t.Fatal(err)
	}
	want, _ := hex.DecodeString("f1b4bc44220bf274aa21f4ec3a8d35044ea7a39f7b366adeb9e3f80d47ecdc33")
	if !bytes.Equal(got, want) {
		t.Fatalf("ciphertext = %x, want %x", got, want)
	}

	// Explicit default secret derives the same key.
	again, err := c.Encrypt(msg, DefaultSecret)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, want) {
		t.Errorf("explicit default secret produced %x", again)
	}
}

func TestRoundTrip(t *testing.T) {
	c := New("")
	tests := []struct {
		name   string
		msg    map[string]any
		secret string
	}{
		{"short", map[string]any{"code": 11, "time": 1}, "HomeWifi"},
		{"numeric only", map[string]any{"code": 1, "time": 12345}, "x"},
		{"unicode secret", map[string]any{"code": 139, "time": 5, "wifiname": "Café Net"}, "Café Net"},
		{"fallback", map[string]any{"code": 24, "time": 9, "sid": "s-1", "sdp": "v=0\r\n"}, ""},
		{"trailing space value", map[string]any{"code": 25, "time": 9, "candidate": "cand  "}, "net"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := c.Encrypt(tt.msg, tt.secret)
			if err != nil {
				t.Fatal(err)
			}
			if len(enc)%blockSize != 0 {
				t.Fatalf("ciphertext length %d not block aligned", len(enc))
			}
			plain, err := c.Decrypt(enc, tt.secret)
			if err != nil {
				t.Fatal(err)
			}
			want, _ := json.Marshal(tt.msg)
			if !bytes.Equal(plain, want) {
				t.Errorf("plaintext = %s, want %s", plain, want)
			}
		})
	}
}

func TestSpacePadding(t *testing.T) {
	c := New("")
	plain := []byte(`{"code":11}`)
	enc, err := c.EncryptRaw(plain, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != 16 {
		t.Fatalf("len = %d, want 16", len(enc))
	}

	// Decrypt one block by hand to see the raw padding bytes.
	raw := make([]byte, 16)
	block := mustCipher(t, c.key("k"))
	block.Decrypt(raw, enc)
	if !bytes.Equal(raw[:len(plain)], plain) {
		t.Errorf("prefix = %q", raw[:len(plain)])
	}
	for i := len(plain); i < 16; i++ {
		if raw[i] != ' ' {
			t.Errorf("pad byte %d = %#x, want 0x20", i, raw[i])
		}
	}
}

func TestWrongKey(t *testing.T) {
	c := New("")
	msg := map[string]any{"code": 139, "time": 1700000000, "wifiname": "HomeWifi", "wifirssi": -55}
	enc, err := c.Encrypt(msg, "HomeWifi")
	if err != nil {
		t.Fatal(err)
	}
	want, _ := json.Marshal(msg)

	for _, other := range []string{"HomeWifi2", "homewifi", "", "SGHome"} {
		plain, err := c.Decrypt(enc, other)
		if err == nil && bytes.Equal(plain, want) {
			t.Errorf("secret %q decrypted the original message", other)
		}
	}
}

func TestDecryptErrors(t *testing.T) {
	c := New("")
	valid, err := c.EncryptRaw([]byte("not json at all!"), "k")
	if err != nil {
		t.Fatal(err)
	}
	badUTF8, err := c.EncryptRaw([]byte{'{', 0xff, 0xfe, '}'}, "k")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{1, 2, 3}},
		{"not aligned", make([]byte, 17)},
		{"not json", valid},
		{"bad utf8", badUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.data, "k")
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DecodeError", err)
			}
		})
	}
}

func TestDecryptTrimsControlBytes(t *testing.T) {
	c := New("")
	enc, err := c.EncryptRaw([]byte("\x00\t{\"code\":138,\"time\":2}\r\n\x00"), "k")
	if err != nil {
		t.Fatal(err)
	}
	plain, err := c.Decrypt(enc, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != `{"code":138,"time":2}` {
		t.Errorf("plain = %q", plain)
	}
}

func TestDecryptEnvelope(t *testing.T) {
	c := New("")
	enc, err := c.Encrypt(map[string]any{"code": 151, "time": 42, "sid": "abc"}, "net")
	if err != nil {
		t.Fatal(err)
	}
	code, ts, plain, err := c.DecryptEnvelope(enc, "net")
	if err != nil {
		t.Fatal(err)
	}
	if code != 151 || ts != 42 {
		t.Errorf("envelope = (%d, %d)", code, ts)
	}
	if !bytes.Contains(plain, []byte(`"sid":"abc"`)) {
		t.Errorf("plain = %s", plain)
	}

	noCode, err := c.Encrypt(map[string]any{"time": 1}, "net")
	if err != nil {
		t.Fatal(err)
	}
	_, _, _, err = c.DecryptEnvelope(noCode, "net")
	var de *DecodeError
	if !errors.As(err, &de) || de.Reason != "envelope" {
		t.Errorf("err = %v, want envelope DecodeError", err)
	}
}

func TestCustomFallback(t *testing.T) {
	custom := New("Other")
	if custom.Fallback() != "Other" {
		t.Fatalf("fallback = %q", custom.Fallback())
	}
	msg := map[string]any{"code": 11, "time": 1}
	enc, err := custom.Encrypt(msg, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := custom.Decrypt(enc, "Other"); err != nil {
		t.Errorf("decrypt with explicit fallback: %v", err)
	}
}

func mustCipher(t *testing.T, key []byte) cipher.Block {
	t.Helper()
	b, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
