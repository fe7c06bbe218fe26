// Package namegen generates pronounceable node names with a bigram
// Markov chain trained on a small fantasy/mythological name list, the
// same approach and training set as the reference implementation's
// markov_namegen-based generator.
package namegen

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// trainingNames mirrors the reference generator's training corpus: a
// mix of fantasy, Greco-Roman, Celtic and Nordic names plus a handful
// of nature words, chosen for short, pronounceable output.
var trainingNames = []string{
	"Aldric", "Theron", "Gareth", "Mirabel", "Isolde", "Lysander", "Elowen", "Rowan",
	"Caelum", "Astrid", "Eirik", "Freya", "Magnus", "Sigrid", "Bjorn", "Ingrid",
	"Apollo", "Diana", "Atlas", "Selene", "Orion", "Luna", "Phoenix", "Aurora",
	"Finn", "Maeve", "Cormac", "Niamh", "Declan", "Siobhan", "Aidan", "Brigid",
	"Ragnar", "Skald", "Torsten", "Gunnar", "Helga", "Ivar", "Sigrun",
	"Zephyr", "Ember", "Storm", "Raven", "Wolf", "Bear", "Hawk", "Fox",
	"Cedar", "Ash", "Oak", "Birch", "Willow", "Maple", "Pine", "Elm",
}

// boundary marks the start/end of a training word in the chain, so
// the generator can learn which letters plausibly begin or end a name.
const boundary = '\x00'

// chain is a bigram (order-2) character Markov chain: given the
// previous two runes, it samples the next one.
type chain struct {
	transitions map[string][]rune
}

func newChain(corpus []string) *chain {
	c := &chain{transitions: make(map[string][]rune)}
	for _, word := range corpus {
		runes := []rune(word)
		padded := append([]rune{boundary, boundary}, runes...)
		padded = append(padded, boundary)
		for i := 0; i+2 < len(padded); i++ {
			key := string(padded[i : i+2])
			c.transitions[key] = append(c.transitions[key], padded[i+2])
		}
	}
	return c
}

func (c *chain) generateOne() string {
	var sb strings.Builder
	prev := string([]rune{boundary, boundary})
	for i := 0; i < 32; i++ {
		options := c.transitions[prev]
		if len(options) == 0 {
			break
		}
		next := options[rand.IntN(len(options))]
		if next == boundary {
			break
		}
		sb.WriteRune(next)
		prevRunes := []rune(prev)
		prev = string([]rune{prevRunes[1], next})
	}
	return sb.String()
}

var generator = newChain(trainingNames)

// Generate returns a pronounceable, keyexpr-safe node name: non-empty,
// at most 12 characters, containing only letters, digits and
// underscores. It retries internally until the Markov chain produces
// one (training data makes this essentially immediate).
func Generate() (string, error) {
	for attempt := 0; attempt < 256; attempt++ {
		name := generator.generateOne()
		if isValidName(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("namegen: failed to generate a valid name after 256 attempts")
}

// GenerateUnique returns Generate's output suffixed with "_<n>" for a
// random n in [0, 1000), for callers that want a cheap uniqueness bump
// without a central registry.
func GenerateUnique() (string, error) {
	base, err := Generate()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%d", base, rand.IntN(1000)), nil
}

func isValidName(name string) bool {
	if name == "" || len(name) > 12 {
		return false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '_' {
			return false
		}
	}
	return true
}
