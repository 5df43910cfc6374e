// internal/crypto/codec.go (server-key AEAD codec)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	idLength  = 32 // 256-bit identifiers
	keySize   = 32 // AES-256
	nonceSize = 16
	tagSize   = 16

	versionGCMV1 = "v1"
)

var (
	// ErrIntegrity means authentication failed or the blob is corrupt.
	ErrIntegrity = errors.New("ciphertext integrity check failed")
	// ErrFormat means the version tag is unrecognized.
	ErrFormat = errors.New("unrecognized ciphertext format")
)

// blobFormat is the closed set of ciphertext formats the codec can read.
type blobFormat int

const (
	formatUnknown blobFormat = iota
	formatGCMV1               // v1:<hex nonce>:<hex ciphertext>:<hex tag>
	formatLegacyCBCV0         // <b64 iv>:<b64 ciphertext>, no tag, read-only
)

// GenerateID returns a fresh high-entropy secret identifier.
func GenerateID() string {
	bytes := make([]byte, idLength)
	if _, err := rand.Read(bytes); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(bytes)
}

// Codec encrypts and decrypts secret payloads under a single server-held
// 256-bit key. It always writes the current AEAD format but can still read
// blobs produced by the pre-AEAD CBC format.
type Codec struct {
	key []byte
}

func NewCodec(keyHex string) (*Codec, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	return &Codec{key: key}, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce and
// returns the current-format blob. Nonces always come from crypto/rand;
// a repeated nonce under the fixed key would break the mode entirely.
func (c *Codec) Encrypt(plaintext []byte) (string, error) {
	aead, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce generation failed: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		versionGCMV1,
		hex.EncodeToString(nonce),
		hex.EncodeToString(ciphertext),
		hex.EncodeToString(tag),
	}, ":"), nil
}

// Decrypt opens a blob in any supported format. Tampered or malformed blobs
// fail with ErrIntegrity; blobs in no supported format fail with ErrFormat.
func (c *Codec) Decrypt(blob string) ([]byte, error) {
	parts := strings.Split(blob, ":")
	switch classify(parts) {
	case formatGCMV1:
		return c.decryptGCM(parts)
	case formatLegacyCBCV0:
		return c.decryptLegacyCBC(parts)
	default:
		return nil, ErrFormat
	}
}

func classify(parts []string) blobFormat {
	switch {
	case len(parts) == 4 && parts[0] == versionGCMV1:
		return formatGCMV1
	case len(parts) == 2:
		// Two bare fields is the historical iv:ciphertext layout, which
		// predates version tags.
		return formatLegacyCBCV0
	default:
		return formatUnknown
	}
}

func (c *Codec) decryptGCM(parts []string) ([]byte, error) {
	nonce, err := hex.DecodeString(parts[1])
	if err != nil || len(nonce) != nonceSize {
		return nil, ErrIntegrity
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, ErrIntegrity
	}
	tag, err := hex.DecodeString(parts[3])
	if err != nil || len(tag) != tagSize {
		return nil, ErrIntegrity
	}

	aead, err := c.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// decryptLegacyCBC reads the pre-AEAD AES-256-CBC format. There is no
// authentication tag, so this path detects gross corruption at best and
// provides no tamper guarantee. Kept for records written before the GCM
// rollout; the codec never writes it.
func (c *Codec) decryptLegacyCBC(parts []string) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return nil, ErrIntegrity
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrIntegrity
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return stripPKCS7(plaintext)
}

func (c *Codec) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}
	return aead, nil
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrIntegrity
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, ErrIntegrity
	}
	for _, b := range data[len(data)-pad:] {
		if subtle.ConstantTimeByteEq(b, byte(pad)) != 1 {
			return nil, ErrIntegrity
		}
	}
	return data[:len(data)-pad], nil
}
