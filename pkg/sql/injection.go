// Package sql screens free-text request input for SQL injection payloads
// before it reaches a query builder.
package sql

import (
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a value that libinjection flagged.
type InjectionCheckResult struct {
	ParamName   string
	ParamValue  string
	Fingerprint string // libinjection token fingerprint, e.g. "s&1c"
}

// CheckText runs libinjection over a single free-text value.
// Returns nil when the value is clean or blank.
//
// Search text is always bound as a query parameter, so a hit is not an
// exploitable condition. It is still reported so attempts can be audited.
func CheckText(paramName, value string) *InjectionCheckResult {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		ParamName:   paramName,
		ParamValue:  value,
		Fingerprint: string(fingerprint),
	}
}
