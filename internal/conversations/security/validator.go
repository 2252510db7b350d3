package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"chatflow_backend/internal/conversations/domain"
)

// TenantContext is the tenant vocabulary used to decide whether a category is in scope.
type TenantContext struct {
	Name                string
	BusinessDescription string
	BusinessContext     string
}

// TenantContextFrom extracts the validator context from a tenant.
func TenantContextFrom(t domain.Tenant) TenantContext {
	return TenantContext{
		Name:                t.Name,
		BusinessDescription: t.BusinessDescription,
		BusinessContext:     t.BusinessContext,
	}
}

func (c TenantContext) text() string {
	return strings.ToLower(c.Name + " " + c.BusinessDescription + " " + c.BusinessContext)
}

type offTopicCategory struct {
	name     string
	keywords []string
	patterns []*regexp.Regexp
}

// inScope reports whether the tenant vocabulary establishes the category as in scope.
func (c offTopicCategory) inScope(tenantText string) bool {
	for _, kw := range c.keywords {
		if strings.Contains(tenantText, kw) {
			return true
		}
	}
	return false
}

// ResponseValidator applies the outbound policy checks to AI responses.
type ResponseValidator struct {
	minLength    int
	maxLength    int
	promptLeak   []*regexp.Regexp
	identityLeak []*regexp.Regexp
	overPromise  []*regexp.Regexp
	offTopic     []offTopicCategory
}

// NewResponseValidator builds a validator from a pattern file.
func NewResponseValidator(pf PatternFile) (*ResponseValidator, error) {
	v := &ResponseValidator{
		minLength: pf.Validator.MinLength,
		maxLength: pf.Validator.MaxLength,
	}
	var err error
	if v.promptLeak, err = compileAll("prompt_leak", pf.Validator.PromptLeak); err != nil {
		return nil, err
	}
	if v.identityLeak, err = compileAll("identity_leak", pf.Validator.IdentityLeak); err != nil {
		return nil, err
	}
	if v.overPromise, err = compileAll("over_promise", pf.Validator.OverPromise); err != nil {
		return nil, err
	}
	for _, cat := range pf.Validator.OffTopic {
		compiled, err := compileAll("off_topic."+cat.Category, cat.Patterns)
		if err != nil {
			return nil, err
		}
		v.offTopic = append(v.offTopic, offTopicCategory{
			name:     cat.Category,
			keywords: lowerAll(cat.ContextKeywords),
			patterns: compiled,
		})
	}
	return v, nil
}

// DefaultResponseValidator builds a validator from the embedded tables.
func DefaultResponseValidator() (*ResponseValidator, error) {
	pf, err := DefaultPatternFile()
	if err != nil {
		return nil, err
	}
	return NewResponseValidator(pf)
}

// Validate runs the checks in order and returns the first violation found.
func (v *ResponseValidator) Validate(response string, tenant TenantContext) domain.ValidationResult {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return domain.Rejected(domain.ReasonEmpty, domain.SeverityMedium)
	}

	length := utf8.RuneCountInString(trimmed)
	if length < v.minLength {
		return domain.Rejected(domain.ReasonTooShort, domain.SeverityLow)
	}
	if length > v.maxLength {
		return domain.Rejected(domain.ReasonTooLong, domain.SeverityLow)
	}

	if matchesAny(v.promptLeak, trimmed) {
		return domain.Rejected(domain.ReasonPromptLeak, domain.SeverityHigh)
	}
	if matchesAny(v.identityLeak, trimmed) {
		return domain.Rejected(domain.ReasonIdentityLeak, domain.SeverityHigh)
	}
	if matchesAny(v.overPromise, trimmed) {
		return domain.Rejected(domain.ReasonOverPromise, domain.SeverityMedium)
	}

	if category := v.offTopicCategory(trimmed, tenant); category != "" {
		return domain.Rejected(domain.ReasonOffTopic, domain.SeverityLow)
	}

	return domain.Accepted()
}

// offTopicCategory returns the first category the response touches that the tenant does not cover.
func (v *ResponseValidator) offTopicCategory(response string, tenant TenantContext) string {
	var tenantText string
	for _, cat := range v.offTopic {
		if !matchesAny(cat.patterns, response) {
			continue
		}
		if tenantText == "" {
			tenantText = tenant.text()
		}
		if !cat.inScope(tenantText) {
			return cat.name
		}
	}
	return ""
}
