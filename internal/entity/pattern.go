package entity

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// patternRule is one regex for one entity type. group selects the capture
// group carrying the value; 0 means the whole match.
type patternRule struct {
	re    *regexp.Regexp
	base  float64
	group int
}

// rooms are lowercase household locations. They stay lowercase after
// normalization, unlike proper-noun places.
var rooms = map[string]bool{
	"salón": true, "salon": true, "cocina": true, "dormitorio": true,
	"baño": true, "bano": true, "garaje": true, "jardín": true,
	"jardin": true, "terraza": true, "pasillo": true, "oficina": true,
	"comedor": true, "habitación": true, "habitacion": true, "despacho": true,
}

var patternCatalogue = map[string][]patternRule{
	TypeLocation: {
		{re: regexp.MustCompile(`(?i)\b(salón|salon|cocina|dormitorio|baño|bano|garaje|jardín|jardin|terraza|pasillo|oficina|comedor|habitación|habitacion|despacho)\b`), base: 0.85, group: 1},
		{re: regexp.MustCompile(`\b(?:en|a|hacia|desde|para)\s+([A-ZÁÉÍÓÚÑ][a-záéíóúüñ]+(?:\s+(?:de|del|la|las|los)\s+[A-ZÁÉÍÓÚÑ][a-záéíóúüñ]+)*)`), base: 0.75, group: 1},
	},
	TypeTime: {
		{re: regexp.MustCompile(`\b(?:[01]?\d|2[0-3]):[0-5]\d\b`), base: 0.9},
		{re: regexp.MustCompile(`(?i)\ba\s+las?\s+((?:\d{1,2}|una|dos|tres|cuatro|cinco|seis|siete|ocho|nueve|diez|once|doce)(?:\s+y\s+(?:media|cuarto))?(?:\s+menos\s+cuarto)?(?:\s+de\s+la\s+(?:mañana|tarde|noche))?)`), base: 0.7, group: 1},
	},
	TypeDate: {
		{re: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), base: 0.9},
		{re: regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`), base: 0.85},
		{re: regexp.MustCompile(`(?i)\b(hoy|mañana|pasado\s+mañana|ayer)\b`), base: 0.8, group: 1},
	},
	TypeTemperature: {
		{re: regexp.MustCompile(`(?i)-?\d{1,3}\s*(?:°\s*c?|grados?)`), base: 0.85},
	},
	TypePerson: {
		{re: regexp.MustCompile(`@([\wáéíóúüñ]+)`), base: 0.85, group: 1},
		{re: regexp.MustCompile(`\b(?:a|para|con)\s+([A-ZÁÉÍÓÚÑ][a-záéíóúüñ]+)\b`), base: 0.7, group: 1},
	},
	TypeArtist: {
		{re: regexp.MustCompile(`(?i)(?:música|canciones|algo|temas)\s+de\s+([A-ZÁÉÍÓÚÑ][\wáéíóúüñ]*(?:\s+[A-ZÁÉÍÓÚÑ][\wáéíóúüñ]*)*)`), base: 0.7, group: 1},
	},
	TypeGenre: {
		{re: regexp.MustCompile(`(?i)\b(rock|pop|jazz|clásica|clasica|reggaeton|electrónica|electronica|flamenco|salsa|blues|metal|indie|rap)\b`), base: 0.85, group: 1},
	},
	TypeSong: {
		{re: regexp.MustCompile(`[«"']([^«»"']{2,60})[»"']`), base: 0.8, group: 1},
	},
	TypeCondition: {
		{re: regexp.MustCompile(`(?i)\bsi\s+(?:llueve|nieva|hace\s+frío|hace\s+frio|hace\s+calor|hay\s+tráfico|hay\s+trafico)\b`), base: 0.85},
	},
}

// PatternExtractor matches a fixed regex catalogue per entity type.
type PatternExtractor struct{}

var _ Extractor = (*PatternExtractor)(nil)

// NewPatternExtractor creates the regex-based extractor.
func NewPatternExtractor() *PatternExtractor { return &PatternExtractor{} }

func (e *PatternExtractor) Name() string { return "pattern" }

// Extract implements [Extractor]. When req.Types is empty, every type in the
// catalogue is tried.
func (e *PatternExtractor) Extract(ctx context.Context, req Request) ([]types.Entity, error) {
	requested := req.Types
	if len(requested) == 0 {
		requested = make([]string, 0, len(patternCatalogue))
		for t := range patternCatalogue {
			requested = append(requested, t)
		}
	}

	var out []types.Entity
	for _, reqType := range requested {
		rules, ok := patternCatalogue[aliasType(reqType)]
		if !ok {
			continue
		}
		for _, rule := range rules {
			for _, loc := range rule.re.FindAllStringSubmatchIndex(req.Utterance, -1) {
				start, end := loc[2*rule.group], loc[2*rule.group+1]
				if start < 0 {
					continue
				}
				value := req.Utterance[start:end]
				if skipMatch(reqType, req.Utterance, start) {
					continue
				}
				out = append(out, types.Entity{
					Type:       reqType,
					Value:      value,
					Confidence: adjustConfidence(rule.base, value),
					Source:     "pattern",
				})
			}
		}
	}
	return out, nil
}

// skipMatch suppresses known false positives the regexes cannot express:
// "mañana" after "de la" or "por la" is the time of day, not tomorrow.
func skipMatch(reqType, utterance string, start int) bool {
	if aliasType(reqType) != TypeDate {
		return false
	}
	prefix := strings.ToLower(utterance[:start])
	return strings.HasSuffix(prefix, "de la ") || strings.HasSuffix(prefix, "por la ")
}

// adjustConfidence nudges the base confidence by surface cues: capitalized
// values and longer matches are more specific, very short ones less so.
func adjustConfidence(base float64, value string) float64 {
	c := base
	runes := []rune(value)
	if len(runes) > 0 && unicode.IsUpper(runes[0]) {
		c += 0.05
	}
	if len(runes) >= 5 {
		c += 0.05
	} else if len(runes) < 3 {
		c -= 0.1
	}
	return clamp(c)
}
