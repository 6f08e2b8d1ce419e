package errors

import (
	"errors"
	"regexp"
)

// Escalation describes how an error should be handled by an operator.
type Escalation struct {
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Remediation string   `json:"remediation"`
}

// escalationRule matches exception text against a pattern. Rules are ordered;
// first match wins.
type escalationRule struct {
	pattern     *regexp.Regexp
	severity    Severity
	category    Category
	remediation string
}

// Escalator classifies raw errors into {severity, category, remediation}
// using two ordered tables: transient first, then permanent.
type Escalator struct {
	transient []escalationRule
	permanent []escalationRule
}

// NewEscalator creates an escalator with the default rule tables.
func NewEscalator() *Escalator {
	return &Escalator{
		transient: []escalationRule{
			{regexp.MustCompile(`(?i)timeout|deadline exceeded`), SeverityWarning, CategoryNetwork,
				"retry; raise the per-call timeout if this recurs"},
			{regexp.MustCompile(`(?i)rate.?limit|too many requests|429`), SeverityWarning, CategoryNetwork,
				"back off; lower the indexing batch rate"},
			{regexp.MustCompile(`(?i)connection (reset|refused)|broken pipe|EOF`), SeverityWarning, CategoryNetwork,
				"retry; check the provider endpoint is reachable"},
			{regexp.MustCompile(`(?i)circuit breaker is open`), SeverityWarning, CategoryNetwork,
				"wait for the breaker reset window; the pipeline is degrading gracefully"},
		},
		permanent: []escalationRule{
			{regexp.MustCompile(`(?i)dimension mismatch`), SeverityError, CategoryValidation,
				"reindex with the current embedding model"},
			{regexp.MustCompile(`(?i)corrupt|invalid checkpoint|bad magic`), SeverityFatal, CategoryIO,
				"delete the checkpoint file and run a full index"},
			{regexp.MustCompile(`(?i)api key|unauthorized|401|403`), SeverityError, CategoryConfig,
				"check EMBEDDING_API_KEY and provider configuration"},
			{regexp.MustCompile(`(?i)no such file|not found`), SeverityError, CategoryIO,
				"verify the extractor output directory exists and was populated"},
			{regexp.MustCompile(`(?i)parse|unmarshal|decode`), SeverityError, CategoryValidation,
				"inspect the offending unit record; it will be skipped"},
		},
	}
}

// Escalate matches err against the transient table, then the permanent
// table. Unmatched errors return an unknown escalation.
func (e *Escalator) Escalate(err error) Escalation {
	if err == nil {
		return Escalation{Severity: SeverityInfo, Category: CategoryInternal}
	}

	// Structured errors carry their own classification.
	var ce *Error
	if errors.As(err, &ce) {
		return Escalation{
			Severity:    ce.Severity,
			Category:    ce.Category,
			Remediation: ce.Suggestion,
		}
	}

	msg := err.Error()
	for _, rule := range e.transient {
		if rule.pattern.MatchString(msg) {
			return Escalation{rule.severity, rule.category, rule.remediation}
		}
	}
	for _, rule := range e.permanent {
		if rule.pattern.MatchString(msg) {
			return Escalation{rule.severity, rule.category, rule.remediation}
		}
	}

	return Escalation{Severity: SeverityError, Category: CategoryInternal, Remediation: "unknown"}
}
