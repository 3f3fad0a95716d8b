package document

import (
	"fmt"
	"sync"
	"time"

	"gridgrant/internal/permission"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// UnmappedStatusError reports a lifecycle status with no document status
// code. The table below is total over the defined statuses, so hitting
// this means a status was added without extending the table.
type UnmappedStatusError struct {
	Status permission.ProcessStatus
}

func (e *UnmappedStatusError) Error() string {
	return fmt.Sprintf("no document status code for lifecycle status %q", e.Status)
}

func (e *UnmappedStatusError) DomainCode() dErrors.Code {
	return dErrors.CodeUnmappedStatus
}

// StatusCode maps a lifecycle status to its document status code. The
// mapping is fixed; same status, same code, always.
func StatusCode(s permission.ProcessStatus) (string, error) {
	switch s {
	case permission.StatusCreated:
		return "A14", nil
	case permission.StatusValidated:
		return "Z02", nil
	case permission.StatusMalformed:
		return "A33", nil
	case permission.StatusUnableToSend:
		return "A33", nil
	case permission.StatusSentToAdministrator:
		return "A08", nil
	case permission.StatusRejected:
		return "A34", nil
	case permission.StatusTimedOut:
		return "Z03", nil
	case permission.StatusInvalid:
		return "Z01", nil
	case permission.StatusAccepted:
		return "A37", nil
	case permission.StatusRevoked:
		return "A13", nil
	case permission.StatusUnfulfillable:
		return "A33", nil
	case permission.StatusFulfilled:
		return "A37", nil
	case permission.StatusTerminated:
		return "A16", nil
	case permission.StatusRequiresExternalTerm:
		return "A08", nil
	case permission.StatusFailedToTerminate:
		return "A33", nil
	case permission.StatusExternallyTerminated:
		return "A16", nil
	}
	return "", &UnmappedStatusError{Status: s}
}

// codingSchemes lists the national party coding schemes by country. The
// scheme identifier is the letter N followed by the country code.
var codingSchemes = map[id.CountryCode]string{
	"AT": "NAT", "BE": "NBE", "CH": "NCH", "CZ": "NCZ", "DE": "NDE",
	"DK": "NDK", "EE": "NEE", "ES": "NES", "FI": "NFI", "FR": "NFR",
	"GR": "NGR", "HR": "NHR", "HU": "NHU", "IE": "NIE", "IT": "NIT",
	"LT": "NLT", "LU": "NLU", "LV": "NLV", "NL": "NNL", "NO": "NNO",
	"PL": "NPL", "PT": "NPT", "RO": "NRO", "SE": "NSE", "SI": "NSI",
	"SK": "NSK",
}

// CodingScheme returns the party coding scheme for a country, or the empty
// string when the country has none registered. An unknown country never
// fails a whole document.
func CodingScheme(country id.CountryCode) string {
	return codingSchemes[country]
}

// timeZones lists the national civil time zone by country. Day boundaries
// in documents follow the country's wall clock, not UTC.
var timeZones = map[id.CountryCode]string{
	"AT": "Europe/Vienna", "BE": "Europe/Brussels", "CH": "Europe/Zurich",
	"CZ": "Europe/Prague", "DE": "Europe/Berlin", "DK": "Europe/Copenhagen",
	"EE": "Europe/Tallinn", "ES": "Europe/Madrid", "FI": "Europe/Helsinki",
	"FR": "Europe/Paris", "GR": "Europe/Athens", "HR": "Europe/Zagreb",
	"HU": "Europe/Budapest", "IE": "Europe/Dublin", "IT": "Europe/Rome",
	"LT": "Europe/Vilnius", "LU": "Europe/Luxembourg", "LV": "Europe/Riga",
	"NL": "Europe/Amsterdam", "NO": "Europe/Oslo", "PL": "Europe/Warsaw",
	"PT": "Europe/Lisbon", "RO": "Europe/Bucharest", "SE": "Europe/Stockholm",
	"SI": "Europe/Ljubljana", "SK": "Europe/Bratislava",
}

var locationCache sync.Map // id.CountryCode -> *time.Location

// Location returns the country's civil time zone, UTC when the country has
// none registered or the zone database cannot resolve it.
func Location(country id.CountryCode) *time.Location {
	if cached, ok := locationCache.Load(country); ok {
		return cached.(*time.Location)
	}
	name, ok := timeZones[country]
	if !ok {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locationCache.Store(country, loc)
	return loc
}
