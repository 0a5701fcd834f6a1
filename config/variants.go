package config

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/engine"
)

//go:embed variants.toml
var defaultVariants string

// Variants holds the configuration of every lesson variant.
type Variants struct {
	Free engine.VariantConfig `toml:"free"`
	Paid engine.VariantConfig `toml:"paid"`
}

// Get returns the configuration of kind.
func (v *Variants) Get(kind lesson.Kind) (engine.VariantConfig, error) {
	switch kind {
	case lesson.KindFree:
		return v.Free, nil
	case lesson.KindPaid:
		return v.Paid, nil
	}
	return engine.VariantConfig{}, fmt.Errorf("%w: %q", lesson.ErrUnknownVariant, kind)
}

// DefaultVariants returns the embedded variant configuration.
func DefaultVariants() (*Variants, error) {
	var v Variants
	if _, err := toml.Decode(defaultVariants, &v); err != nil {
		return nil, fmt.Errorf("parse embedded variants: %w", err)
	}
	v.Free.Kind = lesson.KindFree
	v.Paid.Kind = lesson.KindPaid
	return &v, nil
}

// LoadVariants returns the embedded defaults overridden by the file at path.
// An empty path or a missing file yields the defaults. Unknown keys are an
// error.
func LoadVariants(path string) (*Variants, error) {
	base, err := DefaultVariants()
	if err != nil {
		return nil, err
	}

	if path != "" {
		override, meta, err := loadVariantsFile(path)
		if err != nil {
			return nil, err
		}
		if override != nil {
			base.Free = mergeVariant(base.Free, override.Free, meta, "free")
			base.Paid = mergeVariant(base.Paid, override.Paid, meta, "paid")
		}
	}

	for _, v := range []*engine.VariantConfig{&base.Free, &base.Paid} {
		v.ApplyDefaults()
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return base, nil
}

func loadVariantsFile(path string) (*Variants, toml.MetaData, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, toml.MetaData{}, nil
	}
	if err != nil {
		return nil, toml.MetaData{}, fmt.Errorf("read variants file %s: %w", path, err)
	}

	var v Variants
	meta, err := toml.Decode(string(data), &v)
	if err != nil {
		return nil, toml.MetaData{}, fmt.Errorf("parse variants file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, toml.MetaData{}, fmt.Errorf("%w: variants file %s: unknown keys %s",
			lesson.ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	return &v, meta, nil
}

func mergeVariant(base, over engine.VariantConfig, meta toml.MetaData, name string) engine.VariantConfig {
	defined := func(key ...string) bool {
		return meta.IsDefined(append([]string{name}, key...)...)
	}

	merged := base
	merged.KeyPrefix = mergeValue(defined("key_prefix"), over.KeyPrefix, base.KeyPrefix)
	merged.Completion.Role = mergeValue(defined("completion", "role"), over.Completion.Role, base.Completion.Role)
	merged.Completion.Threshold = mergeValue(defined("completion", "threshold"), over.Completion.Threshold, base.Completion.Threshold)
	merged.IdleTimeout = mergeValue(defined("idle_timeout"), over.IdleTimeout, base.IdleTimeout)
	merged.LockTTL = mergeValue(defined("lock_ttl"), over.LockTTL, base.LockTTL)
	merged.DedupTTL = mergeValue(defined("dedup_ttl"), over.DedupTTL, base.DedupTTL)
	merged.SessionTTL = mergeValue(defined("session_ttl"), over.SessionTTL, base.SessionTTL)
	merged.TeardownBeforeFarewell = mergeValue(defined("teardown_before_farewell"), over.TeardownBeforeFarewell, base.TeardownBeforeFarewell)
	merged.IdleCompletionTutorTurns = mergeValue(defined("idle_completion_tutor_turns"), over.IdleCompletionTutorTurns, base.IdleCompletionTutorTurns)
	merged.SystemPrompt = mergeValue(defined("system_prompt"), over.SystemPrompt, base.SystemPrompt)
	merged.OpeningPrompt = mergeValue(defined("opening_prompt"), over.OpeningPrompt, base.OpeningPrompt)
	merged.StartCallback = mergeValue(defined("start_callback"), over.StartCallback, base.StartCallback)
	merged.SubscribeCallback = mergeValue(defined("subscribe_callback"), over.SubscribeCallback, base.SubscribeCallback)
	merged.SubscribeURL = mergeValue(defined("subscribe_url"), over.SubscribeURL, base.SubscribeURL)
	if defined("suggest_levels") {
		merged.SuggestLevels = over.SuggestLevels
	}

	merged.Messages = maps.Clone(base.Messages)
	if merged.Messages == nil {
		merged.Messages = make(map[string]engine.Texts)
	}
	for lang, texts := range over.Messages {
		merged.Messages[lang] = texts.Merge(base.Messages[lang])
	}
	return merged
}

func mergeValue[T any](defined bool, over, base T) T {
	if defined {
		return over
	}
	return base
}
