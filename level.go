package lesson

import (
	"fmt"
	"strings"
)

// Level is a coarse CEFR proficiency tag, fixed for the lifetime of a lesson.
type Level string

const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
)

// DefaultLevel is assumed when the profile carries no usable level.
const DefaultLevel = LevelB1

// Levels lists every supported level from lowest to highest.
var Levels = []Level{LevelA1, LevelA2, LevelB1, LevelB2, LevelC1}

// survey answers stored by onboarding, in English and Russian
var surveyLevels = map[string]Level{
	"beginner":           LevelA1,
	"начинающий":         LevelA1,
	"elementary":         LevelA2,
	"элементарный":       LevelA2,
	"intermediate":       LevelB1,
	"средний":            LevelB1,
	"upper-intermediate": LevelB2,
	"upper intermediate": LevelB2,
	"выше среднего":      LevelB2,
	"advanced":           LevelC1,
	"продвинутый":        LevelC1,
}

// ParseLevel maps a CEFR tag or an onboarding survey answer onto a Level.
func ParseLevel(s string) (Level, error) {
	v := strings.TrimSpace(s)
	for _, l := range Levels {
		if strings.EqualFold(v, string(l)) {
			return l, nil
		}
	}
	if l, ok := surveyLevels[strings.ToLower(v)]; ok {
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// LevelOrDefault is ParseLevel falling back to DefaultLevel.
func LevelOrDefault(s string) Level {
	l, err := ParseLevel(s)
	if err != nil {
		return DefaultLevel
	}
	return l
}

// Valid reports whether l is one of the supported levels.
func (l Level) Valid() bool {
	for _, v := range Levels {
		if v == l {
			return true
		}
	}
	return false
}
