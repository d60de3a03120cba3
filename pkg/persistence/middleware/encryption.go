package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/ports"
)

var (
	// ErrInvalidKey is returned for keys that are not 32 bytes long.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes (AES-256)")
	// ErrNotSealed is returned when a stored step carries no ciphertext and
	// plaintext reads are not allowed.
	ErrNotSealed = errors.New("step is not sealed")
	// ErrDecrypt is returned when no configured key opens a sealed step.
	ErrDecrypt = errors.New("decryption failed with all available keys")
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot open a
	// step, so keys can be rotated without rewriting history.
	FallbackKeys [][]byte

	// AllowPlaintext lets Load pass through steps written before
	// encryption was enabled.
	AllowPlaintext bool
}

// sealed is the encrypted part of a step. Index, yield reason, suspended
// summaries and warnings stay readable for listing and monitoring.
type sealed struct {
	Instance    *codec.WireInstance `json:"instance,omitempty"`
	Input       []codec.WireMessage `json:"input,omitempty"`
	History     []codec.WireMessage `json:"history,omitempty"`
	CedeContent any                 `json:"cedeContent,omitempty"`
}

type encryptionMiddleware struct {
	next   ports.StepStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals step contents with
// AES-GCM. The session ID is bound as additional data, so a step copied
// into another session does not decrypt.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, ErrInvalidKey
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d: %w", i, ErrInvalidKey)
		}
	}
	return func(next ports.StepStore) ports.StepStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) Append(ctx context.Context, sessionID string, steps ...*codec.WireStep) error {
	out := make([]*codec.WireStep, len(steps))
	for i, s := range steps {
		plain, err := json.Marshal(sealed{
			Instance:    s.Instance,
			Input:       s.Input,
			History:     s.History,
			CedeContent: s.CedeContent,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal step %d: %w", s.Index, err)
		}
		ciphertext, err := encrypt(plain, m.config.ActiveKey, []byte(sessionID))
		if err != nil {
			return fmt.Errorf("failed to encrypt step %d: %w", s.Index, err)
		}

		envelope := *s
		envelope.Instance = nil
		envelope.Input = nil
		envelope.History = nil
		envelope.CedeContent = nil
		envelope.Sealed = base64.StdEncoding.EncodeToString(ciphertext)
		out[i] = &envelope
	}
	return m.next.Append(ctx, sessionID, out...)
}

func (m *encryptionMiddleware) Load(ctx context.Context, sessionID string) ([]*codec.WireStep, error) {
	steps, err := m.next.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		if s.Sealed == "" {
			if m.config.AllowPlaintext {
				continue
			}
			return nil, fmt.Errorf("step %d: %w", s.Index, ErrNotSealed)
		}

		ciphertext, err := base64.StdEncoding.DecodeString(s.Sealed)
		if err != nil {
			return nil, fmt.Errorf("step %d: failed to decode ciphertext: %w", s.Index, err)
		}
		plain, err := decryptWithRotation(ciphertext, []byte(sessionID), m.config.ActiveKey, m.config.FallbackKeys)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", s.Index, err)
		}

		var body sealed
		if err := codec.Unmarshal(plain, &body); err != nil {
			return nil, fmt.Errorf("step %d: failed to unmarshal decrypted body: %w", s.Index, err)
		}
		s.Instance = body.Instance
		s.Input = body.Input
		s.History = body.History
		s.CedeContent = body.CedeContent
		s.Sealed = ""
	}
	return steps, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encrypt(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func decryptWithRotation(ciphertext, aad, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey, aad); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key, aad); err == nil {
			return plain, nil
		}
	}
	return nil, ErrDecrypt
}

func decrypt(ciphertext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, aad)
}
