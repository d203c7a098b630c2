// Package matcher associates requirement subjects with measurement subjects
// when the two sides name things inconsistently.
//
// Matching produces a scored candidate list rather than a single guess so
// that ambiguity survives to the verdict.
package matcher

import (
	"sort"
	"strings"
	"unicode"

	"github.com/c360studio/codecomply/measurement"
	"github.com/c360studio/codecomply/requirement"
)

// Match scores, best first.
const (
	ScoreExact       = 3
	ScoreSynonym     = 2
	ScoreTokenSubset = 1
)

// Match reasons recorded on candidates.
const (
	ReasonExact       = "exact"
	ReasonSynonym     = "synonym"
	ReasonTokenSubset = "token-subset"
)

// SynonymTable maps a canonical term to the terms that mean the same thing.
// Terms may span several words ("means of egress").
type SynonymTable map[string][]string

// Config configures a Matcher. It is passed explicitly so one Matcher can be
// shared by concurrent evaluations.
type Config struct {
	MinScore  int          `yaml:"min_score" json:"min_score"`
	Synonyms  SynonymTable `yaml:"synonyms" json:"synonyms"`
	StopWords []string     `yaml:"stop_words" json:"stop_words"`
}

// DefaultSynonyms returns a small table of common building-code equivalences.
func DefaultSynonyms() SynonymTable {
	return SynonymTable{
		"exit":      {"egress", "means of egress"},
		"corridor":  {"hallway", "hall", "passageway"},
		"stair":     {"stairs", "stairway", "staircase"},
		"door":      {"doorway", "doors"},
		"headroom":  {"head room", "clear height"},
		"sprinkler": {"sprinklers", "sprinkler system"},
		"window":    {"windows", "glazing"},
	}
}

// DefaultStopWords returns words ignored by synonym and token matching.
func DefaultStopWords() []string {
	return []string{"a", "an", "the", "of", "for", "to", "in", "at"}
}

// DefaultConfig returns the default matcher configuration.
func DefaultConfig() Config {
	return Config{
		MinScore:  ScoreTokenSubset,
		Synonyms:  DefaultSynonyms(),
		StopWords: DefaultStopWords(),
	}
}

// Candidate is a measurement proposed for a requirement.
type Candidate struct {
	Measurement *measurement.Measurement
	Score       int
	Reason      string
}

type phrase struct {
	tokens    []string
	canonical string
}

// Matcher scores measurement subjects against requirement subjects. It holds
// no mutable state after construction.
type Matcher struct {
	minScore int
	phrases  []phrase
	stop     map[string]bool
}

// New compiles cfg into a Matcher.
func New(cfg Config) *Matcher {
	m := &Matcher{
		minScore: cfg.MinScore,
		stop:     make(map[string]bool, len(cfg.StopWords)),
	}
	if m.minScore < ScoreTokenSubset {
		m.minScore = ScoreTokenSubset
	}
	for _, w := range cfg.StopWords {
		m.stop[strings.ToLower(strings.TrimSpace(w))] = true
	}

	canonicals := make([]string, 0, len(cfg.Synonyms))
	for c := range cfg.Synonyms {
		canonicals = append(canonicals, c)
	}
	sort.Strings(canonicals)
	for _, c := range canonicals {
		canon := strings.Join(Tokens(c), "_")
		if canon == "" {
			continue
		}
		terms := append([]string{c}, cfg.Synonyms[c]...)
		for _, term := range terms {
			if toks := Tokens(term); len(toks) > 0 {
				m.phrases = append(m.phrases, phrase{tokens: toks, canonical: canon})
			}
		}
	}
	// Longest phrase wins so "means of egress" beats a single-word entry.
	sort.SliceStable(m.phrases, func(i, j int) bool {
		return len(m.phrases[i].tokens) > len(m.phrases[j].tokens)
	})
	return m
}

// Normalize lowercases a label, replaces punctuation with spaces and
// collapses whitespace.
func Normalize(label string) string {
	return strings.Join(Tokens(label), " ")
}

// Tokens splits a label into lowercase alphanumeric tokens.
func Tokens(label string) []string {
	return strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// collapse replaces synonym phrases with their canonical term and drops
// stop words.
func (m *Matcher) collapse(label string) []string {
	toks := Tokens(label)
	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); {
		if p, ok := m.phraseAt(toks, i); ok {
			out = append(out, p.canonical)
			i += len(p.tokens)
			continue
		}
		if !m.stop[toks[i]] {
			out = append(out, toks[i])
		}
		i++
	}
	return out
}

// content returns the label's tokens without stop words.
func (m *Matcher) content(label string) []string {
	toks := Tokens(label)
	out := toks[:0]
	for _, t := range toks {
		if !m.stop[t] {
			out = append(out, t)
		}
	}
	return out
}

func (m *Matcher) phraseAt(toks []string, i int) (phrase, bool) {
	for _, p := range m.phrases {
		if i+len(p.tokens) > len(toks) {
			continue
		}
		ok := true
		for k, t := range p.tokens {
			if toks[i+k] != t {
				ok = false
				break
			}
		}
		if ok {
			return p, true
		}
	}
	return phrase{}, false
}

// Score returns the match score of a measurement subject against a
// requirement subject, and the reason for it. Zero means no match.
func (m *Matcher) Score(reqSubject, measSubject string) (int, string) {
	rn, mn := Normalize(reqSubject), Normalize(measSubject)
	if rn == "" || mn == "" {
		return 0, ""
	}
	if rn == mn {
		return ScoreExact, ReasonExact
	}

	rc, mc := m.collapse(reqSubject), m.collapse(measSubject)
	if len(rc) == 0 || len(mc) == 0 {
		return 0, ""
	}
	// Reordering the same words is not a synonym; it falls to token-subset.
	if sameTokens(rc, mc) && !sameTokens(m.content(reqSubject), m.content(measSubject)) {
		return ScoreSynonym, ReasonSynonym
	}

	have := make(map[string]bool, len(mc))
	for _, t := range mc {
		have[t] = true
	}
	for _, t := range rc {
		if !have[t] {
			return 0, ""
		}
	}
	return ScoreTokenSubset, ReasonTokenSubset
}

func sameTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Match returns the candidate measurements for req, best first. Candidates
// scoring below the configured minimum are discarded; an empty result means
// no measurement matched. Equal scores are ordered by measurement id.
func (m *Matcher) Match(req *requirement.Requirement, measurements []*measurement.Measurement) []Candidate {
	var out []Candidate
	for _, meas := range measurements {
		score, reason := m.Score(req.Subject(), meas.Subject())
		if score < m.minScore {
			continue
		}
		out = append(out, Candidate{Measurement: meas, Score: score, Reason: reason})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Measurement.ID() < out[j].Measurement.ID()
	})
	return out
}

// Top returns the candidates tied at the highest score. candidates must be
// ordered as returned by Match.
func Top(candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0].Score
	n := 1
	for n < len(candidates) && candidates[n].Score == best {
		n++
	}
	return candidates[:n]
}
