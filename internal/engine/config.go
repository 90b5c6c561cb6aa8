package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/atlaskv/atlaskv/internal/walio"
)

const (
	defaultMemtableSizeLimit = 64 * 1024 * 1024
	defaultMaxKeySize        = 64 * 1024
	defaultMaxValueSize      = 16 * 1024 * 1024
	defaultSyncEveryN        = 100
)

// Config configures an Engine, mirroring the options table in spec
// section 6. Zero-value fields are filled in with their documented
// defaults by Open.
type Config struct {
	DataDir string

	WALSyncStrategy walio.SyncStrategy

	MemtableSizeLimit int64
	MaxKeySize        uint32
	MaxValueSize      uint32

	// Logger receives structured startup, flush, and recovery events. A
	// nil Logger falls back to logrus.StandardLogger().
	Logger *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = "./atlaskv_data"
	}
	switch {
	case !c.WALSyncStrategy.Kind.IsSet():
		// A bare Config{} carries no opinion on sync strategy; spec
		// section 6 documents EveryNEntries(100) as the default.
		c.WALSyncStrategy = walio.SyncStrategy{Kind: walio.EveryNEntries, N: defaultSyncEveryN}
	case c.WALSyncStrategy.Kind == walio.EveryNEntries && c.WALSyncStrategy.N == 0:
		c.WALSyncStrategy.N = defaultSyncEveryN
	}
	if c.MemtableSizeLimit == 0 {
		c.MemtableSizeLimit = defaultMemtableSizeLimit
	}
	if c.MaxKeySize == 0 {
		c.MaxKeySize = defaultMaxKeySize
	}
	if c.MaxValueSize == 0 {
		c.MaxValueSize = defaultMaxValueSize
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// DefaultConfig returns the config described in spec section 6's option
// table, rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:           dataDir,
		WALSyncStrategy:   walio.SyncStrategy{Kind: walio.EveryNEntries, N: defaultSyncEveryN},
		MemtableSizeLimit: defaultMemtableSizeLimit,
		MaxKeySize:        defaultMaxKeySize,
		MaxValueSize:      defaultMaxValueSize,
	}.withDefaults()
}
