// Package cli assembles the engine, stores and session manager that back
// the canopy command line.
package cli

import (
	"os"
	"strings"
	"time"
)

// Store backends accepted by Options.Store.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreBadger = "badger"
)

// Options configures Build. Flags fill it in; Env overlays the
// environment on top of the zero values.
type Options struct {
	// Charter is a YAML manifest file or a directory of markdown nodes.
	Charter string
	// Start is the entry node. Empty means start, main, index, the
	// directory name, then the first registered node.
	Start string
	// Executors points to an executors.yaml with process executors.
	Executors string

	Store     string
	DataDir   string
	RedisAddr string
	// SessionTTL expires idle sessions on stores that support it.
	SessionTTL time.Duration

	// EncryptionKey is a 32-byte key, hex or base64, that seals stored
	// steps. OldKeys still decrypt during rotation.
	EncryptionKey string
	OldKeys       []string
	// MaskKeys are state key patterns masked before persistence.
	MaskKeys []string

	LogLevel  string
	LogFormat string
	Debug     bool
}

// Env overlays CANOPY_* environment variables read through getenv.
// Values already set on o win.
func (o *Options) Env(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if o.RedisAddr == "" {
		o.RedisAddr = getenv("CANOPY_REDIS_ADDR")
	}
	if o.LogLevel == "" {
		o.LogLevel = getenv("CANOPY_LOG_LEVEL")
	}
	if o.EncryptionKey == "" {
		o.EncryptionKey = getenv("CANOPY_ENCRYPTION_KEY")
	}
	if len(o.OldKeys) == 0 {
		if v := getenv("CANOPY_ENCRYPTION_OLD_KEYS"); v != "" {
			o.OldKeys = splitList(v)
		}
	}
	if o.Store == "" {
		o.Store = getenv("CANOPY_STORE")
	}
}

func (o *Options) defaults() {
	if o.Store == "" {
		if o.RedisAddr != "" {
			o.Store = StoreRedis
		} else {
			o.Store = StoreFile
		}
	}
	if o.DataDir == "" {
		o.DataDir = ".canopy"
	}
	if o.Debug && o.LogLevel == "" {
		o.LogLevel = "debug"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
