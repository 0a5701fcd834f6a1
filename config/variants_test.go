package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	lesson "github.com/linguapulse/lesson"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "variants.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write variants file: %v", err)
	}
	return path
}

func TestLoadVariants_Defaults(t *testing.T) {
	v, err := LoadVariants("")
	if err != nil {
		t.Fatalf("LoadVariants: %v", err)
	}

	free := v.Free
	if free.Kind != lesson.KindFree || free.KeyPrefix != "" {
		t.Fatalf("free = %q %q", free.Kind, free.KeyPrefix)
	}
	if free.Completion != (lesson.CompletionPolicy{Role: lesson.RoleLearner, Threshold: 4}) {
		t.Fatalf("free completion = %+v", free.Completion)
	}
	if free.IdleTimeout != 5*time.Minute || free.TeardownBeforeFarewell {
		t.Fatalf("free idle = %v, teardown first = %v", free.IdleTimeout, free.TeardownBeforeFarewell)
	}

	paid := v.Paid
	if paid.Kind != lesson.KindPaid || paid.KeyPrefix != "main_" {
		t.Fatalf("paid = %q %q", paid.Kind, paid.KeyPrefix)
	}
	if paid.Completion != (lesson.CompletionPolicy{Role: lesson.RoleTutor, Threshold: 10}) {
		t.Fatalf("paid completion = %+v", paid.Completion)
	}
	if paid.IdleTimeout != 10*time.Minute || !paid.TeardownBeforeFarewell || paid.IdleCompletionTutorTurns != 5 {
		t.Fatalf("paid = %+v", paid)
	}
	if paid.LockTTL != time.Minute || paid.DedupTTL != time.Hour {
		t.Fatalf("paid ttls = %v %v", paid.LockTTL, paid.DedupTTL)
	}
	if !paid.Suggests(lesson.LevelA2) || paid.Suggests(lesson.LevelB2) {
		t.Fatalf("paid suggest levels = %v", paid.SuggestLevels)
	}

	for _, lang := range []string{"en", "ru"} {
		for _, cfg := range []struct {
			name  string
			texts func(string) string
		}{
			{"free", func(l string) string { return free.Texts(l).Farewell }},
			{"paid", func(l string) string { return paid.Texts(l).Farewell }},
		} {
			if cfg.texts(lang) == "" {
				t.Fatalf("%s has no %s farewell", cfg.name, lang)
			}
		}
	}
	if paid.Texts("ru").Farewell != paid.Texts("en").Farewell {
		t.Fatalf("paid ru farewell does not fall back to english")
	}
}

func TestLoadVariants_OverridesKeyByKey(t *testing.T) {
	path := writeFile(t, `
[free]
idle_timeout = "2m"
teardown_before_farewell = true

[free.completion]
threshold = 6

[free.messages.en]
farewell = "Bye!"

[free.messages.de]
starting = "Los geht's"

[paid]
key_prefix = ""
idle_completion_tutor_turns = 0
`)

	v, err := LoadVariants(path)
	if err != nil {
		t.Fatalf("LoadVariants: %v", err)
	}

	if v.Free.IdleTimeout != 2*time.Minute || !v.Free.TeardownBeforeFarewell {
		t.Fatalf("free = %+v", v.Free)
	}
	if v.Free.Completion.Threshold != 6 || v.Free.Completion.Role != lesson.RoleLearner {
		t.Fatalf("free completion = %+v", v.Free.Completion)
	}
	en := v.Free.Texts("en")
	if en.Farewell != "Bye!" || en.Starting != "Starting free audio lesson…" {
		t.Fatalf("en texts: farewell %q, starting %q", en.Farewell, en.Starting)
	}
	if de := v.Free.Texts("de"); de.Starting != "Los geht's" || de.Farewell != "Bye!" {
		t.Fatalf("de texts: starting %q, farewell %q", de.Starting, de.Farewell)
	}
	if v.Free.SystemPrompt == "" {
		t.Fatalf("system prompt lost in merge")
	}

	if v.Paid.KeyPrefix != "" || v.Paid.IdleCompletionTutorTurns != 0 {
		t.Fatalf("paid zero values not applied: %q %d", v.Paid.KeyPrefix, v.Paid.IdleCompletionTutorTurns)
	}
	if v.Paid.IdleTimeout != 10*time.Minute {
		t.Fatalf("paid idle timeout = %v", v.Paid.IdleTimeout)
	}
}

func TestLoadVariants_MissingFileUsesDefaults(t *testing.T) {
	v, err := LoadVariants(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadVariants: %v", err)
	}
	if v.Free.Completion.Threshold != 4 {
		t.Fatalf("threshold = %d", v.Free.Completion.Threshold)
	}
}

func TestLoadVariants_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"unknown key", "[free]\nidle_timout = \"1m\"\n", lesson.ErrInvalidConfig},
		{"bad role", "[paid.completion]\nrole = \"coach\"\n", lesson.ErrInvalidConfig},
		{"bad level", "[free]\nsuggest_levels = [\"A9\"]\n", lesson.ErrUnknownLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadVariants(writeFile(t, tt.content))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVariantsGet(t *testing.T) {
	v, err := DefaultVariants()
	if err != nil {
		t.Fatalf("DefaultVariants: %v", err)
	}
	if cfg, err := v.Get(lesson.KindPaid); err != nil || cfg.KeyPrefix != "main_" {
		t.Fatalf("Get(paid) = %q, %v", cfg.KeyPrefix, err)
	}
	if _, err := v.Get("trial"); !errors.Is(err, lesson.ErrUnknownVariant) {
		t.Fatalf("err = %v, want ErrUnknownVariant", err)
	}
}
