package entity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// Temperature range accepted by the validator, in °C.
const (
	minTemperature = -50
	maxTemperature = 60
)

var (
	timeDigitsRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
	dateISORe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateSlashRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	numberRe     = regexp.MustCompile(`-?\d{1,3}`)

	relativeDates = map[string]bool{
		"hoy": true, "mañana": true, "pasado mañana": true, "ayer": true,
	}

	// genres maps accepted surface forms to their canonical spelling.
	genres = map[string]string{
		"rock": "rock", "pop": "pop", "jazz": "jazz",
		"clásica": "clásica", "clasica": "clásica",
		"reggaeton": "reggaeton",
		"electrónica": "electrónica", "electronica": "electrónica",
		"flamenco": "flamenco", "salsa": "salsa", "blues": "blues",
		"metal": "metal", "indie": "indie", "rap": "rap",
	}

	// hourWords maps Spanish hour words to their clock value.
	hourWords = map[string]int{
		"una": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5, "seis": 6,
		"siete": 7, "ocho": 8, "nueve": 9, "diez": 10, "once": 11, "doce": 12,
	}
)

// Validator normalizes entity values into canonical forms and enforces
// per-type rules. Entities failing validation are dropped, not patched.
// Safe for concurrent use.
type Validator struct{}

// NewValidator creates a validator with the default rules.
func NewValidator() *Validator { return &Validator{} }

// Normalize returns the entity with Normalized set, or ok=false when the
// value fails the type's rules. Unknown types pass through trimmed.
func (v *Validator) Normalize(ent types.Entity) (types.Entity, bool) {
	value := strings.TrimSpace(ent.Value)
	if value == "" {
		return ent, false
	}

	var (
		normalized string
		ok         bool
	)
	switch aliasType(ent.Type) {
	case TypeLocation:
		normalized, ok = normalizeLocation(value)
	case TypeTime:
		normalized, ok = normalizeTime(value)
	case TypeDate:
		normalized, ok = normalizeDate(value)
	case TypeTemperature:
		normalized, ok = normalizeTemperature(value)
	case TypePerson:
		normalized, ok = titleCase(value), true
	case TypeGenre:
		normalized, ok = genres[strings.ToLower(value)]
	case TypeCondition:
		normalized, ok = strings.ReplaceAll(strings.ToLower(value), " ", "_"), true
	default:
		normalized, ok = value, true
	}
	if !ok {
		return ent, false
	}

	ent.Value = value
	ent.Normalized = normalized
	ent.Confidence = clamp(ent.Confidence)
	return ent, true
}

// normalizeLocation keeps household rooms lowercase and title-cases
// proper-noun places.
func normalizeLocation(value string) (string, bool) {
	lower := strings.ToLower(value)
	if rooms[lower] {
		return lower, true
	}
	return titleCase(value), true
}

// normalizeTime canonicalizes digit and spoken Spanish times to HH:MM.
func normalizeTime(value string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(value))
	lower = strings.TrimPrefix(lower, "a las ")
	lower = strings.TrimPrefix(lower, "a la ")

	if m := timeDigitsRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%02d:%02d", h, min), true
	}

	// Spoken form: "<hora> [y media|y cuarto|menos cuarto] [de la tarde|noche]".
	offset := 0
	minute := 0
	switch {
	case strings.Contains(lower, "menos cuarto"):
		offset, minute = -1, 45
		lower = strings.ReplaceAll(lower, "menos cuarto", "")
	case strings.Contains(lower, "y media"):
		minute = 30
		lower = strings.ReplaceAll(lower, "y media", "")
	case strings.Contains(lower, "y cuarto"):
		minute = 15
		lower = strings.ReplaceAll(lower, "y cuarto", "")
	}

	evening := strings.Contains(lower, "de la tarde") || strings.Contains(lower, "de la noche")
	lower = strings.ReplaceAll(lower, "de la mañana", "")
	lower = strings.ReplaceAll(lower, "de la tarde", "")
	lower = strings.ReplaceAll(lower, "de la noche", "")
	lower = strings.TrimSpace(lower)

	hour, ok := hourWords[lower]
	if !ok {
		n, err := strconv.Atoi(lower)
		if err != nil || n < 0 || n > 23 {
			return "", false
		}
		hour = n
	}
	hour += offset
	if hour < 0 {
		hour = 23
	}
	if evening && hour < 12 {
		hour += 12
	}
	if hour > 23 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

// normalizeDate accepts ISO dates, DD/MM/YYYY, and relative keywords.
func normalizeDate(value string) (string, bool) {
	lower := strings.ToLower(strings.Join(strings.Fields(value), " "))
	if relativeDates[lower] {
		return lower, true
	}
	if dateISORe.MatchString(lower) {
		return lower, true
	}
	if m := dateSlashRe.FindStringSubmatch(lower); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if day < 1 || day > 31 || month < 1 || month > 12 {
			return "", false
		}
		return fmt.Sprintf("%s-%02d-%02d", m[3], month, day), true
	}
	return "", false
}

// normalizeTemperature parses the numeric part and enforces the -50..60 °C
// range.
func normalizeTemperature(value string) (string, bool) {
	num := numberRe.FindString(value)
	if num == "" {
		return "", false
	}
	deg, err := strconv.Atoi(num)
	if err != nil || deg < minTemperature || deg > maxTemperature {
		return "", false
	}
	return fmt.Sprintf("%d°C", deg), true
}

// titleCase uppercases the first rune of every word except Spanish
// connectors.
func titleCase(value string) string {
	connectors := map[string]bool{"de": true, "del": true, "la": true, "las": true, "los": true, "y": true}
	words := strings.Fields(strings.ToLower(value))
	for i, w := range words {
		if i > 0 && connectors[w] {
			continue
		}
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
