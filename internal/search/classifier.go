// Package search turns a natural-language query into ranked retrieval
// candidates: the classifier labels the query, the executor dispatches one
// or more store strategies, and the ranker fuses and scores the results.
package search

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codectx/codectx/internal/unit"
)

// classifierCacheSize bounds the memoized classification results.
const classifierCacheSize = 256

type intentRule struct {
	pattern *regexp.Regexp
	intent  unit.Intent
}

type typeRule struct {
	pattern *regexp.Regexp
	target  unit.Type
}

// Rule tables are ordered: first match wins.
var intentRules = []intentRule{
	{regexp.MustCompile(`\btrace\b|\bflow\b|\blifecycle\b|\bend[- ]to[- ]end\b`), unit.IntentTrace},
	{regexp.MustCompile(`\bhow\s+do\s+i\b|\bhow\s+to\b|\bimplement\b|\badd\s+a\b|\bcreate\s+a\b|\bbuild\s+a\b`), unit.IntentImplement},
	{regexp.MustCompile(`\bhow\s+does\b|\bhow\s+is\b|\bwhat\s+happens\b|\bexplain\b|\bunderstand\b`), unit.IntentUnderstand},
	{regexp.MustCompile(`\bwhy\b|\bbug\b|\berror\b|\bfail(s|ing|ure)?\b|\bbroken\b|\bfix\b|\bdebug\b|\bcrash\b|\bexception\b`), unit.IntentDebug},
	{regexp.MustCompile(`\bwhere\s+(is|are|does)\b|\bfind\b|\blocate\b|\bshow\s+me\b|\bwhich\b`), unit.IntentFind},
}

var typeRules = []typeRule{
	{regexp.MustCompile(`\bmodels?\b`), unit.TypeModel},
	{regexp.MustCompile(`\bcontrollers?\b|\bendpoints?\b|\bactions?\b`), unit.TypeController},
	{regexp.MustCompile(`\bservices?\b`), unit.TypeService},
	{regexp.MustCompile(`\bjobs?\b|\bworkers?\b|\bbackground\s+task`), unit.TypeJob},
	{regexp.MustCompile(`\bmailers?\b|\bemails?\s+sent\b`), unit.TypeMailer},
	{regexp.MustCompile(`\bmigrations?\b|\bschema\s+change`), unit.TypeMigration},
	{regexp.MustCompile(`\broutes?\b|\brouting\b|\burl\s+mapping`), unit.TypeRoute},
	{regexp.MustCompile(`\bconcerns?\b|\bmixins?\b`), unit.TypeConcern},
	{regexp.MustCompile(`\bcomponents?\b|\bpartials?\b`), unit.TypeViewComponent},
	{regexp.MustCompile(`\bgraphql\b|\bmutations?\b|\bresolvers?\b`), unit.TypeGraphQLType},
	{regexp.MustCompile(`\bvalidations?\b|\bassociations?\b|\bcallbacks?\b|\bscopes?\b`), unit.TypeModel},
}

var (
	// specificIdentifierPattern spots CamelCase constants, namespaced
	// identifiers, and snake_case method names in the raw query.
	specificIdentifierPattern = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]*)+\b|\b\w+::\w+\b|\b[a-z0-9]+(?:_[a-z0-9]+)+[?!]?\b`)

	broadScopePattern = regexp.MustCompile(`\ball\b|\bevery\b|\boverview\b|\barchitecture\b|\bentire\b|\bwhole\b|\blist\s+of\b`)

	frameworkTermPattern = regexp.MustCompile(`\brails\b|\bactiverecord\b|\bactive\s*record\b|\bactionpack\b|\bactivejob\b|\bactioncable\b|\bactionmailer\b|\bsidekiq\b|\bturbo\b|\bhotwire\b|\bstimulus\b|\bdevise\b|\berb\b|\bconvention\b`)

	nonWordSplitter = regexp.MustCompile(`\W+`)
)

// queryStopWords are dropped during keyword extraction. The list covers
// question scaffolding, not domain terms.
var queryStopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "are": {}, "was": {}, "were": {}, "have": {}, "has": {},
	"how": {}, "what": {}, "where": {}, "when": {}, "why": {}, "who": {},
	"which": {}, "does": {}, "did": {}, "can": {}, "could": {}, "should": {},
	"would": {}, "will": {}, "into": {}, "about": {}, "all": {}, "any": {},
	"its": {}, "our": {}, "your": {}, "their": {}, "not": {}, "but": {},
	"you": {}, "get": {}, "use": {}, "used": {}, "show": {}, "find": {},
}

// QueryClassifier labels queries with intent, scope, target type, framework
// context, and a keyword set. Classification is pure (no store or network
// access) and memoized per query string.
type QueryClassifier struct {
	cache *lru.Cache[string, unit.Classification]
}

// NewQueryClassifier creates a classifier with an internal LRU cache.
func NewQueryClassifier() *QueryClassifier {
	cache, _ := lru.New[string, unit.Classification](classifierCacheSize)
	return &QueryClassifier{cache: cache}
}

// Classify labels the query. Identical queries return the cached result.
func (c *QueryClassifier) Classify(query string) unit.Classification {
	if cached, ok := c.cache.Get(query); ok {
		return cached
	}

	lowered := strings.ToLower(query)

	cl := unit.Classification{
		Intent:           classifyIntent(lowered),
		Scope:            classifyScope(query, lowered),
		TargetType:       classifyTargetType(lowered),
		FrameworkContext: frameworkTermPattern.MatchString(lowered),
		Keywords:         ExtractKeywords(query),
	}

	c.cache.Add(query, cl)
	return cl
}

func classifyIntent(lowered string) unit.Intent {
	for _, rule := range intentRules {
		if rule.pattern.MatchString(lowered) {
			return rule.intent
		}
	}
	return unit.IntentOther
}

// classifyScope looks at the raw query for identifier shapes (casing matters
// there) and at the lowered query for enumerative phrasing.
func classifyScope(raw, lowered string) unit.Scope {
	if specificIdentifierPattern.MatchString(raw) {
		return unit.ScopeSpecific
	}
	if broadScopePattern.MatchString(lowered) {
		return unit.ScopeBroad
	}
	return unit.ScopeFocused
}

func classifyTargetType(lowered string) unit.Type {
	for _, rule := range typeRules {
		if rule.pattern.MatchString(lowered) {
			return rule.target
		}
	}
	return unit.TypeNone
}

// ExtractKeywords splits on non-word characters, lowercases, drops stop
// words and tokens shorter than 3 characters, and de-duplicates while
// preserving first-seen order.
func ExtractKeywords(query string) []string {
	seen := make(map[string]struct{})
	keywords := []string{}
	for _, token := range nonWordSplitter.Split(strings.ToLower(query), -1) {
		if len(token) < 3 {
			continue
		}
		if _, stop := queryStopWords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
	}
	return keywords
}
