package model

import "strings"

// ExpertiseLevel selects how the practice questions are phrased
type ExpertiseLevel string

const (
	LevelBeginner     ExpertiseLevel = "beginner"
	LevelIntermediate ExpertiseLevel = "intermediate"
	LevelExpert       ExpertiseLevel = "expert"
)

// DefaultLevel is used when no level is given
const DefaultLevel = LevelIntermediate

// ExpertiseLevels returns all supported levels in ascending order
func ExpertiseLevels() []ExpertiseLevel {
	return []ExpertiseLevel{LevelBeginner, LevelIntermediate, LevelExpert}
}

// Valid reports whether l is one of the supported levels
func (l ExpertiseLevel) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelExpert:
		return true
	default:
		return false
	}
}

// OrDefault returns l if valid, otherwise DefaultLevel
func (l ExpertiseLevel) OrDefault() ExpertiseLevel {
	if l.Valid() {
		return l
	}
	return DefaultLevel
}

func (l ExpertiseLevel) String() string {
	return string(l)
}

// ParseExpertiseLevel is case-insensitive and falls back to DefaultLevel
func ParseExpertiseLevel(s string) ExpertiseLevel {
	return ExpertiseLevel(strings.ToLower(strings.TrimSpace(s))).OrDefault()
}
