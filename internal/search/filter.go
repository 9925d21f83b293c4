package search

import (
	"fmt"
	"strings"

	"github.com/grindlemire/go-lucene"
	"github.com/grindlemire/go-lucene/pkg/lucene/expr"

	"github.com/opsforge/sentinel-core/internal/knowledge"
)

// ParsedQuery is a raw query string split into structured filters and
// the residual free text the layers actually score against.
type ParsedQuery struct {
	Text   string
	Filter knowledge.Filter
}

// ParseQuery understands field refinements in the query itself, e.g.
// `service:ec2 AND severity:high cpu credits exhausted`. Recognised
// fields are service, severity and category (doc_type and type are
// aliases). Anything that does not parse as a field expression passes
// through as free text.
func ParseQuery(raw string) ParsedQuery {
	raw = strings.TrimSpace(raw)
	out := ParsedQuery{Text: raw}
	if !likelyFielded(raw) {
		return out
	}

	var terms []string
	if parsed, err := lucene.Parse(raw); err == nil {
		walkQueryExpr(parsed, &out.Filter, &terms)
	} else {
		scanFieldTokens(raw, &out.Filter, &terms)
	}
	out.Text = strings.Join(terms, " ")
	return out
}

// scanFieldTokens covers queries the lucene grammar rejects:
// whitespace tokens of the form field:value set filters, everything
// else stays text.
func scanFieldTokens(raw string, f *knowledge.Filter, terms *[]string) {
	for _, tok := range strings.Fields(raw) {
		if tok == "AND" || tok == "OR" || tok == "NOT" {
			continue
		}
		field, value, ok := strings.Cut(tok, ":")
		if !ok || field == "" || value == "" {
			*terms = append(*terms, tok)
			continue
		}
		setQueryFilter(field, strings.Trim(value, `"`), f, terms)
	}
}

// likelyFielded is a cheap heuristic: field:value pairs carry a colon,
// brace-bearing strings are some other query language pasted in.
func likelyFielded(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "{") && strings.Contains(s, "}") {
		return false
	}
	return strings.Contains(s, ":")
}

func walkQueryExpr(e *expr.Expression, f *knowledge.Filter, terms *[]string) {
	if e == nil {
		return
	}

	switch e.Op {
	case expr.And, expr.Or:
		if left, ok := e.Left.(*expr.Expression); ok {
			walkQueryExpr(left, f, terms)
		}
		if right, ok := e.Right.(*expr.Expression); ok {
			walkQueryExpr(right, f, terms)
		}

	case expr.Equals:
		field, value := "", ""
		if left, ok := e.Left.(*expr.Expression); ok && left.Op == expr.Literal {
			if col, ok := left.Left.(expr.Column); ok {
				field = string(col)
			}
		}
		if right, ok := e.Right.(*expr.Expression); ok && right.Op == expr.Literal {
			value = literalString(right.Left)
		}
		if value != "" {
			setQueryFilter(field, value, f, terms)
		}

	case expr.Literal:
		if v := literalString(e.Left); v != "" {
			*terms = append(*terms, v)
		}
	}
}

func literalString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.Trim(t, `"`)
	case expr.Column:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func setQueryFilter(field, value string, f *knowledge.Filter, terms *[]string) {
	switch strings.ToLower(field) {
	case "service":
		f.Service = value
	case "severity":
		f.Severity = strings.ToLower(value)
	case "category", "doc_type", "type":
		f.Category = value
	default:
		// Unknown fields contribute their value as plain text.
		*terms = append(*terms, value)
	}
}
