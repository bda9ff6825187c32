package persona

import (
	"math/rand"
	"strings"

	"fablecast/server/internal/models"
)

// vocabularyUpgrades elevates plain words for high-openness personas.
var vocabularyUpgrades = map[string]string{
	"big":    "immense",
	"small":  "diminutive",
	"old":    "ancient",
	"dark":   "shadowed",
	"scared": "terrified",
	"pretty": "exquisite",
	"bad":    "dire",
	"good":   "splendid",
	"walk":   "stride",
	"look":   "behold",
}

// hedgePrefixes are stripped for assertive personas.
var hedgePrefixes = []string{
	"maybe ",
	"perhaps ",
	"possibly ",
	"i think ",
	"i guess ",
	"sort of ",
	"kind of ",
}

// applySpeechPatterns applies the first pattern whose trigger matches
// (case-insensitive substring) and whose probability roll passes. At
// most one pattern fires and it replaces the whole line.
func applySpeechPatterns(rng *rand.Rand, patterns []models.SpeechPattern, text string) string {
	lower := strings.ToLower(text)
	for _, p := range patterns {
		if !patternTriggered(p, lower) {
			continue
		}
		if rng.Float64() >= p.Probability {
			continue
		}
		return p.Replacement
	}
	return text
}

func patternTriggered(p models.SpeechPattern, lowerText string) bool {
	for _, trigger := range p.Triggers {
		if trigger == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

// applyPersonalityTransforms adjusts phrasing from the Big Five axes:
// high openness elevates vocabulary, high extraversion (or a brave
// custom trait) strips hedging prefixes.
func applyPersonalityTransforms(p models.Personality, text string) string {
	if p.Openness > 0.7 {
		text = elevateVocabulary(text)
	}
	if p.Extraversion > 0.7 || p.Trait("bravery") > 0.7 {
		text = stripHedges(text)
	}
	return text
}

// elevateVocabulary swaps plain words for stronger ones, keeping the
// surrounding punctuation and leading capitalization.
func elevateVocabulary(text string) string {
	words := strings.Fields(text)
	for i, w := range words {
		core := strings.Trim(w, ".,!?;:'\"")
		if core == "" {
			continue
		}
		upgrade, ok := vocabularyUpgrades[strings.ToLower(core)]
		if !ok {
			continue
		}
		if core[0] >= 'A' && core[0] <= 'Z' {
			upgrade = strings.ToUpper(upgrade[:1]) + upgrade[1:]
		}
		words[i] = strings.Replace(w, core, upgrade, 1)
	}
	return strings.Join(words, " ")
}

// stripHedges removes leading hedge phrases, repeatedly, then restores
// the leading capital.
func stripHedges(text string) string {
	for {
		lower := strings.ToLower(text)
		stripped := false
		for _, h := range hedgePrefixes {
			if strings.HasPrefix(lower, h) {
				text = text[len(h):]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	if text != "" {
		text = strings.ToUpper(text[:1]) + text[1:]
	}
	return text
}
