package cli

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aretw0/canopy/pkg/adapters/badger"
	"github.com/aretw0/canopy/pkg/adapters/file"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/adapters/redis"
	"github.com/aretw0/canopy/pkg/persistence/middleware"
	"github.com/aretw0/canopy/pkg/ports"
)

// Storage is an opened step store plus what it needs at shutdown.
type Storage struct {
	Store ports.StepStore
	// Locker is set for backends shared between processes.
	Locker ports.DistributedLocker
	closer io.Closer
}

// Close releases the backend.
func (s *Storage) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// OpenStore opens the backend named by opts.Store and wraps it in the PII
// and encryption middleware when configured. Masking runs before sealing.
func OpenStore(opts Options, logger *slog.Logger) (*Storage, error) {
	opts.defaults()
	st := &Storage{}

	switch opts.Store {
	case StoreFile:
		st.Store = file.New(filepath.Join(opts.DataDir, "sessions"))
	case StoreMemory:
		st.Store = memory.NewStore()
	case StoreBadger:
		cfg := badger.DefaultConfig(filepath.Join(opts.DataDir, "badger"))
		cfg.Logger = logger
		db, err := badger.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		st.Store, st.closer = db, db
	case StoreRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis store needs an address (--redis-addr or CANOPY_REDIS_ADDR)")
		}
		var ropts []redis.Option
		if opts.SessionTTL > 0 {
			ropts = append(ropts, redis.WithTTL(opts.SessionTTL))
		}
		rs := redis.New(opts.RedisAddr, "", 0, ropts...)
		st.Store, st.closer = rs, rs
		st.Locker = redis.NewLocker(rs.Client(), "canopy:")
	default:
		return nil, fmt.Errorf("unknown store %q (want file, memory, redis or badger)", opts.Store)
	}

	var chain []middleware.Middleware
	if len(opts.MaskKeys) > 0 {
		mw, err := middleware.NewPIIMiddleware(middleware.PIIConfig{KeyPatterns: opts.MaskKeys})
		if err != nil {
			st.Close()
			return nil, err
		}
		chain = append(chain, mw)
	}
	if opts.EncryptionKey != "" {
		mw, err := encryption(opts.EncryptionKey, opts.OldKeys)
		if err != nil {
			st.Close()
			return nil, err
		}
		chain = append(chain, mw)
	}
	st.Store = middleware.Chain(st.Store, chain...)
	return st, nil
}

func encryption(active string, old []string) (middleware.Middleware, error) {
	key, err := DecodeKey(active)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	cfg := middleware.EncryptionConfig{ActiveKey: key}
	for i, s := range old {
		k, err := DecodeKey(s)
		if err != nil {
			return nil, fmt.Errorf("old encryption key %d: %w", i, err)
		}
		cfg.FallbackKeys = append(cfg.FallbackKeys, k)
	}
	return middleware.NewEncryptionMiddleware(cfg)
}

// DecodeKey accepts a 32-byte key as 64 hex characters or standard base64.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == hex.EncodedLen(32) {
		if k, err := hex.DecodeString(s); err == nil {
			return k, nil
		}
	}
	k, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not hex or base64: %w", err)
	}
	if len(k) != 32 {
		return nil, middleware.ErrInvalidKey
	}
	return k, nil
}
