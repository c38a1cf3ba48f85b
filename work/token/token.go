package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Codec encrypts upstream URLs into opaque URL-safe tokens so real CDN
// addresses never reach the browser. The key is random per process and
// never persisted: tokens deliberately do not survive a restart, which is
// fine because the upstream URLs they wrap expire quickly anyway. With a
// fresh random key per process a fixed zero IV cannot produce cross-run
// collisions, and tokens are never stored or replayed across processes.
type Codec struct {
	key   []byte
	block cipher.Block
}

// DecodeError marks a malformed or foreign token. Handlers map it to a
// client-facing 400; it must never surface as an uncaught panic.
type DecodeError struct {
	reason string
}

func (e *DecodeError) Error() string {
	return "token decode failed: " + e.reason
}

var zeroIV = make([]byte, aes.BlockSize)

// NewCodec creates a Codec with a fresh random AES-128 key.
func NewCodec() (*Codec, error) {
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	return NewCodecWithKey(key)
}

// NewCodecWithKey creates a Codec with the given 16-byte key. Used by
// tests that need deterministic tokens.
func NewCodecWithKey(key []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid token key: %w", err)
	}
	return &Codec{key: key, block: block}, nil
}

// EncodeURL encrypts a plain URL into a URL-safe token.
// DecodeURL(EncodeURL(u)) == u holds for every valid URL string.
func (c *Codec) EncodeURL(plainURL string) string {
	padded := pkcs7Pad([]byte(plainURL), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, zeroIV).CryptBlocks(out, padded)
	return base64.RawURLEncoding.EncodeToString(out)
}

// DecodeURL decrypts a token back to the original URL. Tokens minted by
// another process (another key) or corrupted in transit yield a
// DecodeError, never garbage output.
func (c *Codec) DecodeURL(tok string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return "", &DecodeError{reason: "not base64url"}
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", &DecodeError{reason: "bad ciphertext length"}
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, zeroIV).CryptBlocks(out, raw)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", &DecodeError{reason: "bad padding"}
	}
	// A foreign-key decrypt can produce valid padding by chance; require
	// the result to at least look like a URL.
	s := string(plain)
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return "", &DecodeError{reason: "not a URL"}
	}
	return s, nil
}

// DecryptUpstreamPayload decrypts a hex-encoded AES-128-CBC blob with the
// provider's fixed key and IV. The key here is public: it is baked into
// the provider's own web player, so this is a compatibility shim rather
// than secret material we own. Trailing whitespace and newlines in the
// hex input are tolerated.
func DecryptUpstreamPayload(hexBlob string, key, iv []byte) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexBlob))
	if err != nil {
		return nil, fmt.Errorf("payload is not hex: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of the block size", len(raw))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid payload key: %w", err)
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("payload decrypt produced bad padding: %w", err)
	}
	return plain, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(b))
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return b[:len(b)-n], nil
}
