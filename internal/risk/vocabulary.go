package risk

import (
	"fmt"
	"regexp"
	"strings"
)

// Vocabulary is the clinical wording the note-matching rules look for.
// Terms match as case-insensitive substrings, so a stem such as "empeor"
// covers "empeora" and "empeoramiento".
type Vocabulary struct {
	DeclineTerms     []string
	AbandonmentTerms []string
	FeverTerms       []string
	EngagementTags   []string
}

// DefaultVocabulary returns the built-in Spanish and English terms.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		DeclineTerms: []string{
			"empeor", "deterioro", "decaimiento", "debilidad",
			"worse", "deteriorat", "decline", "weakness",
		},
		AbandonmentTerms: []string{
			"abandon", "dejar el tratamiento", "dejar tratamiento",
			"no quiere continuar", "no desea continuar",
			"quit treatment", "stop treatment", "refuses treatment",
		},
		FeverTerms: []string{"fiebre", "fever"},
		EngagementTags: []string{
			"low-adherence", "probable-abandonment", "high-abandonment-risk",
		},
	}
}

// Override returns v with every non-empty list of o replacing the matching
// list of v.
func (v Vocabulary) Override(o Vocabulary) Vocabulary {
	if len(o.DeclineTerms) > 0 {
		v.DeclineTerms = o.DeclineTerms
	}
	if len(o.AbandonmentTerms) > 0 {
		v.AbandonmentTerms = o.AbandonmentTerms
	}
	if len(o.FeverTerms) > 0 {
		v.FeverTerms = o.FeverTerms
	}
	if len(o.EngagementTags) > 0 {
		v.EngagementTags = o.EngagementTags
	}
	return v
}

// Matcher is a compiled Vocabulary. It is immutable and safe for concurrent use.
type Matcher struct {
	decline        *regexp.Regexp
	abandonment    *regexp.Regexp
	fever          *regexp.Regexp
	engagementTags map[string]bool
}

// Compile validates the vocabulary and builds its matchers.
func (v Vocabulary) Compile() (*Matcher, error) {
	decline, err := compileTerms("decline", v.DeclineTerms)
	if err != nil {
		return nil, err
	}
	abandonment, err := compileTerms("abandonment", v.AbandonmentTerms)
	if err != nil {
		return nil, err
	}
	fever, err := compileTerms("fever", v.FeverTerms)
	if err != nil {
		return nil, err
	}
	if len(v.EngagementTags) == 0 {
		return nil, fmt.Errorf("vocabulary: no engagement tags")
	}
	tags := make(map[string]bool, len(v.EngagementTags))
	for _, t := range v.EngagementTags {
		tags[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Matcher{decline: decline, abandonment: abandonment, fever: fever, engagementTags: tags}, nil
}

// MustCompile is Compile for vocabularies known to be valid.
func (v Vocabulary) MustCompile() *Matcher {
	m, err := v.Compile()
	if err != nil {
		panic(err)
	}
	return m
}

func compileTerms(name string, terms []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			quoted = append(quoted, regexp.QuoteMeta(t))
		}
	}
	if len(quoted) == 0 {
		return nil, fmt.Errorf("vocabulary: no %s terms", name)
	}
	re, err := regexp.Compile("(?i)(" + strings.Join(quoted, "|") + ")")
	if err != nil {
		return nil, fmt.Errorf("vocabulary: compile %s terms: %w", name, err)
	}
	return re, nil
}

func (m *Matcher) MentionsDecline(text string) bool     { return text != "" && m.decline.MatchString(text) }
func (m *Matcher) MentionsAbandonment(text string) bool { return text != "" && m.abandonment.MatchString(text) }
func (m *Matcher) IsFever(symptom string) bool          { return symptom != "" && m.fever.MatchString(symptom) }

// EngagementTags returns a copy of the lower-cased risk tags as a set.
func (m *Matcher) EngagementTags() map[string]bool {
	out := make(map[string]bool, len(m.engagementTags))
	for k, v := range m.engagementTags {
		out[k] = v
	}
	return out
}
