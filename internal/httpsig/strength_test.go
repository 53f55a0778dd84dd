package httpsig

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStrength(t *testing.T) {
	cases := []struct {
		name   string
		method string
		signed string
		reason string // empty means pass
	}{
		{
			name:   "post with created request-target and digest",
			method: http.MethodPost,
			signed: "(request-target) (created) digest",
		},
		{
			name:   "get with date host and request-target",
			method: http.MethodGet,
			signed: "(request-target) host date",
		},
		{
			name:   "no timestamp anchor",
			method: http.MethodPost,
			signed: "(request-target) digest host",
			reason: "signed headers must include the Date header or (created) pseudo-header",
		},
		{
			name:   "neither request-target nor digest",
			method: http.MethodGet,
			signed: "host date",
			reason: "signed headers must include the Digest header or (request-target) pseudo-header",
		},
		{
			name:   "get without host",
			method: http.MethodGet,
			signed: "(request-target) date",
			reason: "GET requests must have the Host header signed",
		},
		{
			name:   "post without digest",
			method: http.MethodPost,
			signed: "(request-target) date host",
			reason: "POST requests must have the Digest header signed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateStrength(tc.method, strings.Fields(tc.signed))
			if tc.reason == "" {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tc.reason, err.Reason)
			assert.Equal(t, http.StatusUnauthorized, err.Code)
		})
	}
}

func TestValidateStrength_FirstFailureWins(t *testing.T) {
	// A GET that violates both the timestamp rule and the host rule
	// reports the timestamp rule: rules are checked in a fixed order.
	err := validateStrength(http.MethodGet, []string{"(request-target)"})
	require.NotNil(t, err)
	assert.Contains(t, err.Reason, "Date header or (created)")
}
