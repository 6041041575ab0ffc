// Package config assembles the single immutable configuration record
// threaded through every cache component constructor. Defaults here are the
// normative defaults from the specification's option table; nothing else in
// the module hard-codes a default.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CacheConfig controls CacheAside and WriteThrough's populate behavior.
type CacheConfig struct {
	TTLDefault       time.Duration `mapstructure:"ttl_default"`
	NamespacePrefix  string        `mapstructure:"namespace_prefix"`
}

// StampedeConfig controls the single-flight coordinator.
type StampedeConfig struct {
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	CapDelay    time.Duration `mapstructure:"cap_delay"`
	OnTimeout   string        `mapstructure:"on_timeout"` // "fail-open" | "fail-closed"
}

// WriteBehindConfig controls the durable mutation queue worker.
type WriteBehindConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// SemanticConfig controls the semantic cache.
type SemanticConfig struct {
	SimilarityThreshold float32 `mapstructure:"similarity_threshold"`
	KFinal              int     `mapstructure:"k_final"`
	UseMMR              bool    `mapstructure:"use_mmr"`
	MMRLambda           float64 `mapstructure:"mmr_lambda"`
	EmbeddingDim        int     `mapstructure:"embedding_dim"`
	ANNAlgorithm        string  `mapstructure:"ann_algorithm"`
}

// Timeouts controls the default blocking budgets for operations that call
// out to the cache or the source of truth.
type Timeouts struct {
	KVStoreGet time.Duration `mapstructure:"kvstore_get"`
	SoTQuery   time.Duration `mapstructure:"sot_query"`
}

// Config is the immutable record constructed once at the process boundary
// and passed by value (or pointer-to-immutable) into every constructor.
type Config struct {
	Cache       CacheConfig       `mapstructure:"cache"`
	Stampede    StampedeConfig    `mapstructure:"stampede"`
	WriteBehind WriteBehindConfig `mapstructure:"write_behind"`
	Semantic    SemanticConfig    `mapstructure:"semantic"`
	Timeouts    Timeouts          `mapstructure:"timeouts"`
}

// Default returns the configuration populated with every documented
// default option value.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			TTLDefault:      3600 * time.Second,
			NamespacePrefix: "",
		},
		Stampede: StampedeConfig{
			LockTTL:     10 * time.Second,
			MaxAttempts: 5,
			BaseDelay:   100 * time.Millisecond,
			CapDelay:    2 * time.Second,
			OnTimeout:   "fail-open",
		},
		WriteBehind: WriteBehindConfig{
			BatchSize:   100,
			MaxAttempts: 5,
		},
		Semantic: SemanticConfig{
			SimilarityThreshold: 0.70,
			KFinal:              1,
			UseMMR:              false,
			MMRLambda:           0.5,
			EmbeddingDim:        384,
			ANNAlgorithm:        "HNSW",
		},
		Timeouts: Timeouts{
			KVStoreGet: 2 * time.Second,
			SoTQuery:   10 * time.Second,
		},
	}
}

// Load reads configuration from path (YAML/JSON/TOML, detected by
// extension) on top of Default(); environment variables prefixed AVCACHE_
// override both. An empty path loads only environment and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AVCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setViperDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	out := Default()
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("cache.ttl_default", cfg.Cache.TTLDefault)
	v.SetDefault("cache.namespace_prefix", cfg.Cache.NamespacePrefix)
	v.SetDefault("stampede.lock_ttl", cfg.Stampede.LockTTL)
	v.SetDefault("stampede.max_attempts", cfg.Stampede.MaxAttempts)
	v.SetDefault("stampede.base_delay", cfg.Stampede.BaseDelay)
	v.SetDefault("stampede.cap_delay", cfg.Stampede.CapDelay)
	v.SetDefault("stampede.on_timeout", cfg.Stampede.OnTimeout)
	v.SetDefault("write_behind.batch_size", cfg.WriteBehind.BatchSize)
	v.SetDefault("write_behind.max_attempts", cfg.WriteBehind.MaxAttempts)
	v.SetDefault("semantic.similarity_threshold", cfg.Semantic.SimilarityThreshold)
	v.SetDefault("semantic.k_final", cfg.Semantic.KFinal)
	v.SetDefault("semantic.use_mmr", cfg.Semantic.UseMMR)
	v.SetDefault("semantic.mmr_lambda", cfg.Semantic.MMRLambda)
	v.SetDefault("semantic.embedding_dim", cfg.Semantic.EmbeddingDim)
	v.SetDefault("semantic.ann_algorithm", cfg.Semantic.ANNAlgorithm)
	v.SetDefault("timeouts.kvstore_get", cfg.Timeouts.KVStoreGet)
	v.SetDefault("timeouts.sot_query", cfg.Timeouts.SoTQuery)
}

// WithNamespace returns key prefixed with the configured namespace, if any.
// Every component builds its cache keys through this helper so enabling
// multi-tenant isolation never touches a call site.
func (c *Config) WithNamespace(key string) string {
	if c.Cache.NamespacePrefix == "" {
		return key
	}
	return c.Cache.NamespacePrefix + ":" + key
}
