package domain

import (
	"strings"

	dErrors "gridgrant/pkg/domain-errors"
)

// CountryCode is an ISO 3166-1 alpha-2 code, stored uppercase.
type CountryCode string

func ParseCountryCode(raw string) (CountryCode, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != 2 {
		return "", dErrors.Newf(dErrors.CodeBadRequest, "country code %q must be two letters", raw)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", dErrors.Newf(dErrors.CodeBadRequest, "country code %q must be two letters", raw)
		}
	}
	return CountryCode(code), nil
}

func (c CountryCode) String() string { return string(c) }
