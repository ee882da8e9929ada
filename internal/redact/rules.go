package redact

// Pattern pairs a regexp with its replacement token. Replacement tokens are
// chosen so they can never re-match any rule pattern, which keeps Apply
// idempotent.
type Pattern struct {
	Regexp      string
	Replacement string
}

// Rule is a named, ordered set of text transforms keyed by the rule id
// policy files reference.
type Rule struct {
	ID          string
	Description string
	Patterns    []Pattern
}

// DefaultRules returns the built-in redaction rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "mask_emails",
			Description: "Email addresses",
			Patterns: []Pattern{
				{`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, "[EMAIL]"},
			},
		},
		{
			ID:          "drop_phone",
			Description: "Phone numbers",
			Patterns: []Pattern{
				{`(\+?[1-9]\d{0,2}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`, "[PHONE]"},
			},
		},
		{
			ID:          "drop_exact_address",
			Description: "Street addresses",
			Patterns: []Pattern{
				{`(?i)\d+\s+[\w\s]+(?:street|st|avenue|ave|road|rd|highway|hwy|lane|ln|drive|dr|court|ct|circle|cir|boulevard|blvd)\b`, "[ADDRESS]"},
			},
		},
		{
			ID:          "mask_ssn",
			Description: "US social security numbers",
			Patterns: []Pattern{
				{`\b\d{3}-\d{2}-\d{4}\b`, "[SSN]"},
			},
		},
		{
			ID:          "mask_credit_card",
			Description: "Credit card numbers",
			Patterns: []Pattern{
				{`\b(?:\d{4}[\s-]?){3}\d{4}\b`, "[CREDIT_CARD]"},
			},
		},
		{
			ID:          "mask_ip",
			Description: "IPv4 addresses",
			Patterns: []Pattern{
				{`\b(?:\d{1,3}\.){3}\d{1,3}\b`, "[IP_ADDRESS]"},
			},
		},
		{
			ID:          "mask_dates",
			Description: "Long-form dates",
			Patterns: []Pattern{
				{`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`, "[DATE]"},
			},
		},
		{
			ID:          "mask_personal_details",
			Description: "Ages and family references",
			Patterns: []Pattern{
				{`(?i)\b\d{1,2}\s+years?\s+old\b`, "[AGE]"},
				{`(?i)\b(?:wife|husband|spouse|partner|child|children|son|daughter|mother|father|parent)\b`, "[FAMILY]"},
			},
		},
		{
			ID:          "mask_urls",
			Description: "URLs",
			Patterns: []Pattern{
				{`(?i)https?://[^\s]+`, "[URL]"},
			},
		},
		{
			ID:          "scrub_secrets",
			Description: "Credentials and key material",
			Patterns: []Pattern{
				{`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----[\s\S]*?-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`, "[PRIVATE_KEY]"},
				{`(?i)(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`, "[AWS_KEY]"},
				{`ghp_[A-Za-z0-9]{36}`, "[GITHUB_TOKEN]"},
				{`(?i)bearer\s+[A-Za-z0-9._~+/\-]+=*`, "[BEARER_TOKEN]"},
				{`(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`, "[API_KEY]"},
				{`(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`, "[SECRET]"},
			},
		},
		{
			ID:          "mask_all",
			Description: "Maximum redaction for untrusted audiences",
			Patterns: []Pattern{
				{`(?i)https?://[^\s]+`, "[URL]"},
				{`\b\d+\b`, "[NUMBER]"},
				{`\b[A-Z][a-z]+\b`, "[NAME]"},
			},
		},
	}
}
