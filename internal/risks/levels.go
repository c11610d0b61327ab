package risks

import "strings"

// Level is a vigilance level on the national four-colour scale.
type Level string

const (
	LevelVert   Level = "vert"
	LevelJaune  Level = "jaune"
	LevelOrange Level = "orange"
	LevelRouge  Level = "rouge"
)

var levelRank = map[Level]int{
	LevelVert:   0,
	LevelJaune:  1,
	LevelOrange: 2,
	LevelRouge:  3,
}

// Rank returns the severity order of the level, unknown levels ranking as
// vert.
func (l Level) Rank() int {
	return levelRank[l]
}

// HighestLevel returns the most severe of the given levels. An empty input
// yields vert.
func HighestLevel(levels ...Level) Level {
	highest := LevelVert
	for _, l := range levels {
		if l.Rank() > highest.Rank() {
			highest = l
		}
	}
	return highest
}

// ParseLevel normalises a free-form vigilance colour name. Unknown values
// map to vert.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "rouge", "red":
		return LevelRouge
	case "orange":
		return LevelOrange
	case "jaune", "yellow":
		return LevelJaune
	default:
		return LevelVert
	}
}

// LevelFromDelta maps a river height rise above its reference to a level.
func LevelFromDelta(deltaM float64) Level {
	switch {
	case deltaM >= 1.0:
		return LevelRouge
	case deltaM >= 0.5:
		return LevelOrange
	case deltaM >= 0.2:
		return LevelJaune
	default:
		return LevelVert
	}
}

// LevelFromTrafficLetter maps the national forecast colour letters to a
// level. N (black) ranks with rouge.
func LevelFromTrafficLetter(letter string) Level {
	switch strings.ToUpper(strings.TrimSpace(letter)) {
	case "N", "R":
		return LevelRouge
	case "O":
		return LevelOrange
	case "J":
		return LevelJaune
	default:
		return LevelVert
	}
}

// LevelFromAirIndex maps the ATMO index (1..7) to a level.
func LevelFromAirIndex(index int) Level {
	switch {
	case index <= 2:
		return LevelVert
	case index <= 4:
		return LevelJaune
	case index <= 6:
		return LevelOrange
	default:
		return LevelRouge
	}
}

// LevelFromGravity maps drought restriction gravity labels to a level.
func LevelFromGravity(gravity string) Level {
	switch strings.ToLower(strings.TrimSpace(gravity)) {
	case "crise":
		return LevelRouge
	case "alerte_renforcee", "alerte renforcée", "alerte renforcee":
		return LevelOrange
	case "alerte":
		return LevelJaune
	case "vigilance":
		return LevelVert
	default:
		return LevelVert
	}
}

// GlobalRisk rolls the per-source levels of a snapshot up into a single
// headline level. Sources that expose no vigilance colour do not
// contribute.
func GlobalRisk(s *Snapshot) Level {
	levels := make([]Level, 0, 6)
	if s.Weather != nil {
		levels = append(levels, s.Weather.Level)
	}
	if s.River != nil {
		levels = append(levels, s.River.Level)
	}
	if s.Traffic != nil {
		levels = append(levels, s.Traffic.Level)
	}
	if s.AirQuality != nil {
		levels = append(levels, s.AirQuality.Level)
	}
	if s.Water != nil {
		levels = append(levels, s.Water.Level)
	}
	if s.Power != nil {
		levels = append(levels, s.Power.Level)
	}
	return HighestLevel(levels...)
}
