package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name     string
		tracking string
		want     Carrier
		found    bool
	}{
		{name: "ups", tracking: "1Z999AA10123456784", want: UPS, found: true},
		{name: "ups lowercase with spaces", tracking: " 1z 999 aa1 0123456784 ", want: UPS, found: true},
		{name: "usps 22 digits", tracking: "9400111899223197428490", want: USPS, found: true},
		{name: "usps 94 prefix long", tracking: "94001118992231974284901", want: USPS, found: true},
		{name: "fedex 12 digits", tracking: "123456789012", want: FedEx, found: true},
		{name: "fedex 15 digits", tracking: "123456789012345", want: FedEx, found: true},
		{name: "fedex long", tracking: "12345678901234567890123", want: FedEx, found: true},
		{name: "ambiguous 20 digits resolves to usps", tracking: "12345678901234567890", want: USPS, found: true},
		{name: "dhl", tracking: "1234567890", want: DHL, found: true},
		{name: "dhl with hyphens", tracking: "12-3456-7890", want: DHL, found: true},
		{name: "garbage", tracking: "not-a-code", want: Unknown, found: false},
		{name: "empty", tracking: "   ", want: Unknown, found: false},
		{name: "eleven digits", tracking: "12345678901", want: Unknown, found: false},
		{name: "ups too short", tracking: "1Z999AA1012345678", want: Unknown, found: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Detect(tc.tracking)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.found, ok)
		})
	}
}

func TestCarrierString(t *testing.T) {
	assert.Equal(t, "Unknown", Unknown.String())
	assert.Equal(t, "FedEx", FedEx.String())
}
