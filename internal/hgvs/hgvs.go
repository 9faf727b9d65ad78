// Package hgvs validates variant descriptions written in HGVS nomenclature.
//
// Only the subset of the grammar used by MaveDB uploads is accepted: single
// variants and bracketed multi-variants at nucleotide (c., g., n., m., r.) and
// protein (p.) level, plus the wild type and synonymous sentinels.
package hgvs

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel values standing for an unchanged sequence.
const (
	WildType   = "_wt"
	Synonymous = "_sy"
)

// Level selects the grammar a value is checked against.
type Level int

const (
	Nucleotide Level = iota
	Protein
)

func (l Level) String() string {
	if l == Protein {
		return "protein"
	}
	return "nucleotide"
}

var ErrInvalid = errors.New("invalid hgvs")

const (
	dnaBases = `[ACGTN]`
	rnaBases = `[acgun]`

	// positions in coding/non-coding transcripts may carry an intronic offset
	// or sit in the UTRs (-N, *N)
	txPos     = `(?:[-*]?\d+(?:[+-]\d+)?)`
	genomePos = `(?:\d+)`

	aminoAcid = `(?:Ala|Arg|Asn|Asp|Cys|Gln|Glu|Gly|His|Ile|Leu|Lys|Met|Phe|Pro|Ser|Thr|Trp|Tyr|Val|Sec|Pyl|Xaa|Ter|\*)`
	aaPos     = aminoAcid + `\d+`
	aaRange   = aaPos + `(?:_` + aaPos + `)?`
)

func nucleotideEvent(pos, base string) string {
	rng := pos + `(?:_` + pos + `)?`
	return `(?:` + strings.Join([]string{
		pos + base + `>` + base,              // substitution
		rng + `delins` + base + `+`,          // deletion-insertion
		rng + `del` + base + `*`,             // deletion
		rng + `dup` + base + `*`,             // duplication
		pos + `_` + pos + `ins` + base + `+`, // insertion
		pos + `_` + pos + `inv`,              // inversion
		rng + `=`,                            // unchanged
	}, "|") + `)`
}

var proteinEvent = `(?:` + strings.Join([]string{
	aaPos + `(?:` + aminoAcid + `|=|\?)`,              // missense, nonsense, silent
	aaRange + `delins` + aminoAcid + `+`,              // deletion-insertion
	aaRange + `del`,                                   // deletion
	aaRange + `dup`,                                   // duplication
	aaPos + `_` + aaPos + `ins` + aminoAcid + `+`,     // insertion
	aaPos + aminoAcid + `?fs(?:(?:Ter|\*)\d+)?`,       // frameshift
	aaPos + aminoAcid + `?ext(?:(?:Ter|\*)\d+|-\d+)?`, // extension
}, "|") + `)`

type grammar struct {
	prefixes []string
	event    string
}

var (
	nucleotideGrammars = []grammar{
		{prefixes: []string{"c", "n"}, event: nucleotideEvent(txPos, dnaBases)},
		{prefixes: []string{"g", "m"}, event: nucleotideEvent(genomePos, dnaBases)},
		{prefixes: []string{"r"}, event: nucleotideEvent(txPos, rnaBases)},
	}
	proteinGrammars = []grammar{
		{prefixes: []string{"p"}, event: proteinEvent},
	}
)

// compile builds a matcher accepting "x.EVENT", "x.[EVENT;EVENT...]" and the
// whole-sequence forms "x.=" / "x.?" for every prefix of the grammar.
func compile(grammars []grammar, protein bool) *regexp.Regexp {
	var alts []string
	for _, g := range grammars {
		prefix := `(?:` + strings.Join(g.prefixes, "|") + `)\.`
		single := g.event
		multi := `\[` + g.event + `(?:[;,]\s*` + g.event + `)+\]`
		body := single + `|` + multi + `|=|\?`
		if protein {
			// predicted consequences are written in parentheses
			body += `|\((?:` + single + `|=)\)|0`
		}
		alts = append(alts, prefix+`(?:`+body+`)`)
	}
	return regexp.MustCompile(`^(?:` + strings.Join(alts, "|") + `)$`)
}

var (
	nucleotideRe = compile(nucleotideGrammars, false)
	proteinRe    = compile(proteinGrammars, true)
)

// IsSentinel reports whether s is the wild type or synonymous marker.
func IsSentinel(s string) bool {
	return s == WildType || s == Synonymous
}

// Validate checks s against the grammar of level. The returned error wraps
// ErrInvalid and names the offending value.
func Validate(s string, level Level) error {
	v := strings.TrimSpace(s)
	if IsSentinel(v) {
		return nil
	}

	re := nucleotideRe
	if level == Protein {
		re = proteinRe
	}
	if !re.MatchString(v) {
		return fmt.Errorf("%w: %q is not a valid %s variant", ErrInvalid, s, level)
	}
	return nil
}
