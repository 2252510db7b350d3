package security

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// PatternFile is the YAML layout of the detection tables.
type PatternFile struct {
	Sanitizer SanitizerPatterns `yaml:"sanitizer"`
	Validator ValidatorPatterns `yaml:"validator"`
}

type SanitizerPatterns struct {
	MaxInputLength int           `yaml:"max_input_length"`
	Placeholder    string        `yaml:"placeholder"`
	Rules          []FlagPattern `yaml:"rules"`
}

type FlagPattern struct {
	Flag       string   `yaml:"flag"`
	Neutralize bool     `yaml:"neutralize"`
	Patterns   []string `yaml:"patterns"`
}

type ValidatorPatterns struct {
	MinLength    int               `yaml:"min_length"`
	MaxLength    int               `yaml:"max_length"`
	PromptLeak   []string          `yaml:"prompt_leak"`
	IdentityLeak []string          `yaml:"identity_leak"`
	OverPromise  []string          `yaml:"over_promise"`
	OffTopic     []OffTopicPattern `yaml:"off_topic"`
}

// OffTopicPattern is a category that is off-topic unless the tenant context mentions one of its keywords.
type OffTopicPattern struct {
	Category        string   `yaml:"category"`
	ContextKeywords []string `yaml:"context_keywords"`
	Patterns        []string `yaml:"patterns"`
}

// ParsePatternFile decodes a detection table file.
func ParsePatternFile(data []byte) (PatternFile, error) {
	var pf PatternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return PatternFile{}, fmt.Errorf("parsing pattern file: %w", err)
	}
	if pf.Sanitizer.MaxInputLength <= 0 {
		return PatternFile{}, fmt.Errorf("parsing pattern file: sanitizer.max_input_length must be positive")
	}
	if pf.Validator.MinLength <= 0 || pf.Validator.MaxLength <= pf.Validator.MinLength {
		return PatternFile{}, fmt.Errorf("parsing pattern file: invalid validator length bounds %d..%d",
			pf.Validator.MinLength, pf.Validator.MaxLength)
	}
	return pf, nil
}

// DefaultPatternFile returns the embedded detection tables.
func DefaultPatternFile() (PatternFile, error) {
	return ParsePatternFile(defaultPatternsYAML)
}

func compileAll(group string, exprs []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling %s pattern %q: %w", group, expr, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
