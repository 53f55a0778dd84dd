package httpsig

import (
	"net/http"
	"time"
)

const (
	// defaultValidity is how long a signature stays valid when the signer
	// declared no expiry.
	defaultValidity = 5 * time.Minute
	// maxValidity caps the replay window even when the signer declares a
	// longer expiry.
	maxValidity = 12 * time.Hour
	// clockSkewMargin tolerates disagreeing clocks on either edge.
	clockSkewMargin = time.Hour
)

// validateTimeWindow checks that the request was signed inside its
// acceptable time window.
//
// created comes from the (created) parameter (hs2019 only), falling back to
// the Date header; expires comes from the expires parameter, defaulting to
// created+5m and clamped to created+12h. Timestamp parse failures are
// window failures. When neither created nor expires can be determined the
// check passes: the non-hs2019 path with no Date header is deliberately
// unconstrained.
func validateTimeWindow(params Params, header http.Header, now time.Time) *Error {
	reject := newError(http.StatusUnauthorized, "signed request outside acceptable time window")

	var created, expires time.Time
	var haveCreated, haveExpires bool

	if params.Algorithm() == AlgorithmHS2019 {
		secs, present, err := params.Created()
		if err != nil {
			return reject
		}
		if present {
			created = time.Unix(secs, 0).UTC()
			haveCreated = true
		}
	}
	if !haveCreated {
		if d := header.Get("Date"); d != "" {
			t, err := http.ParseTime(d)
			if err != nil {
				return reject
			}
			created = t.UTC()
			haveCreated = true
		}
	}

	if secs, present, err := params.Expires(); err != nil {
		return reject
	} else if present {
		expires = time.Unix(secs, 0).UTC()
		haveExpires = true
	}

	if haveCreated {
		if !haveExpires {
			expires = created.Add(defaultValidity)
			haveExpires = true
		}
		if ceiling := created.Add(maxValidity); expires.After(ceiling) {
			expires = ceiling
		}
	}

	if haveCreated && created.After(now.Add(clockSkewMargin)) {
		return reject
	}
	if haveExpires && now.After(expires.Add(clockSkewMargin)) {
		return reject
	}
	return nil
}
