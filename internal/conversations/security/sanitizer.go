// Package security holds the inbound sanitizer, the outbound response
// validator and the mapping of their findings onto security incidents.
package security

import (
	"fmt"
	"regexp"

	"chatflow_backend/platform/sanitize"
)

// Sanitizer flags.
const (
	FlagExplicitHandoff = "explicit_handoff"
	FlagPromptOverride  = "prompt_override"
	FlagMarkupInjection = "markup_injection"
	FlagTruncated       = "truncated"
)

// SanitizeResult is the outcome of sanitizing one inbound message.
type SanitizeResult struct {
	CleanMessage string
	Flags        []string
	IsClean      bool
}

// Has reports whether the flag was raised.
func (r SanitizeResult) Has(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ExplicitHandoff reports whether the lead asked for a human.
func (r SanitizeResult) ExplicitHandoff() bool {
	return r.Has(FlagExplicitHandoff)
}

// InjectionFlags returns the flags that indicate an injection attempt.
// explicit_handoff and truncated are not injection markers.
func (r SanitizeResult) InjectionFlags() []string {
	var out []string
	for _, f := range r.Flags {
		if f == FlagExplicitHandoff || f == FlagTruncated {
			continue
		}
		out = append(out, f)
	}
	return out
}

type sanitizerRule struct {
	flag       string
	neutralize bool
	patterns   []*regexp.Regexp
}

// Sanitizer strips and flags prompt-injection markers in inbound text.
// It is stateless after construction and safe for concurrent use.
type Sanitizer struct {
	rules       []sanitizerRule
	maxLength   int
	placeholder string
}

// NewSanitizer builds a Sanitizer from a pattern file.
func NewSanitizer(pf PatternFile) (*Sanitizer, error) {
	s := &Sanitizer{
		maxLength:   pf.Sanitizer.MaxInputLength,
		placeholder: pf.Sanitizer.Placeholder,
	}
	for _, rule := range pf.Sanitizer.Rules {
		if rule.Flag == "" {
			return nil, fmt.Errorf("sanitizer rule without flag")
		}
		compiled, err := compileAll(rule.Flag, rule.Patterns)
		if err != nil {
			return nil, err
		}
		s.rules = append(s.rules, sanitizerRule{flag: rule.Flag, neutralize: rule.Neutralize, patterns: compiled})
	}
	return s, nil
}

// DefaultSanitizer builds a Sanitizer from the embedded tables.
func DefaultSanitizer() (*Sanitizer, error) {
	pf, err := DefaultPatternFile()
	if err != nil {
		return nil, err
	}
	return NewSanitizer(pf)
}

// Sanitize detects explicit handoff requests, instruction overrides, markup
// injection and overlong input. Neutralized markers are replaced by the placeholder
// in CleanMessage; the flag list is always complete.
func (s *Sanitizer) Sanitize(raw string) SanitizeResult {
	text := sanitize.StripControl(raw)
	flags := make([]string, 0, 2)

	for _, rule := range s.rules {
		matched := false
		for _, re := range rule.patterns {
			if !re.MatchString(text) {
				continue
			}
			matched = true
			if rule.neutralize {
				text = re.ReplaceAllLiteralString(text, s.placeholder)
			}
		}
		if matched {
			flags = append(flags, rule.flag)
		}
	}

	text = sanitize.Text(text)
	if clipped, truncated := sanitize.Truncate(text, s.maxLength); truncated {
		text = clipped
		flags = append(flags, FlagTruncated)
	}

	return SanitizeResult{
		CleanMessage: text,
		Flags:        flags,
		IsClean:      len(flags) == 0,
	}
}
