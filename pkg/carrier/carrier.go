// Package carrier classifies shipment tracking numbers by their format. It does
// not contact any carrier; a match only means the string looks like one.
package carrier

import (
	"regexp"
	"strings"
)

// Carrier is the display label of a detected shipping carrier.
type Carrier string

const (
	UPS     Carrier = "UPS"
	USPS    Carrier = "USPS"
	FedEx   Carrier = "FedEx"
	DHL     Carrier = "DHL"
	Unknown Carrier = ""
)

// String returns the label, or "Unknown" for an undetected carrier.
func (c Carrier) String() string {
	if c == Unknown {
		return "Unknown"
	}
	return string(c)
}

type rule struct {
	carrier  Carrier
	patterns []*regexp.Regexp
}

// Rules are evaluated in order and the first match wins. Some formats overlap:
// a 20-22 digit number satisfies both USPS and FedEx and is reported as USPS.
var rules = []rule{
	{carrier: UPS, patterns: []*regexp.Regexp{
		regexp.MustCompile(`^1Z[0-9A-Z]{16}$`),
	}},
	{carrier: USPS, patterns: []*regexp.Regexp{
		regexp.MustCompile(`^[0-9]{20,22}$`),
		regexp.MustCompile(`^94[0-9]{18,}$`),
	}},
	{carrier: FedEx, patterns: []*regexp.Regexp{
		regexp.MustCompile(`^[0-9]{12,15}$`),
		regexp.MustCompile(`^[0-9]{20,}$`),
	}},
	{carrier: DHL, patterns: []*regexp.Regexp{
		regexp.MustCompile(`^[0-9]{10}$`),
	}},
}

var separators = strings.NewReplacer(" ", "", "-", "", "\t", "")

// Normalize strips whitespace and hyphens and upper-cases the tracking number.
func Normalize(tracking string) string {
	return strings.ToUpper(separators.Replace(strings.TrimSpace(tracking)))
}

// Detect returns the carrier whose format matches the tracking number.
func Detect(tracking string) (Carrier, bool) {
	normalized := Normalize(tracking)
	if normalized == "" {
		return Unknown, false
	}
	for _, r := range rules {
		for _, p := range r.patterns {
			if p.MatchString(normalized) {
				return r.carrier, true
			}
		}
	}
	return Unknown, false
}
