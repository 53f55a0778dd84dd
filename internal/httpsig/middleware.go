package httpsig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/arbor-fed/arbor/internal/actor"
)

type actorContextKey struct{}

// Outcomes receives the terminal result of each verification; wired to the
// metrics registry in production, nil in most tests.
type Outcomes interface {
	RecordVerification(status string)
}

// Middleware returns HTTP middleware that authenticates inbound federation
// requests by their HTTP signature. On success the signing actor is stored
// in the request context; on failure the outcome's status code and reason
// are written as a JSON error body.
func Middleware(v *Verifier, outcomes Outcomes) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeVerifyError(w, http.StatusBadRequest, "could not read request body")
				return
			}
			// Downstream handlers re-read the body.
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, verr := v.Verify(r.Context(), NewRequest(r, body))
			if verr != nil {
				if outcomes != nil {
					outcomes.RecordVerification("rejected")
				}
				var e *Error
				if errors.As(verr, &e) {
					writeVerifyError(w, e.Code, e.Reason)
				} else {
					writeVerifyError(w, http.StatusUnauthorized, verr.Error())
				}
				return
			}

			if outcomes != nil {
				outcomes.RecordVerification("authenticated")
			}
			ctx := context.WithValue(r.Context(), actorContextKey{}, signer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the authenticated signer stored by Middleware,
// or nil.
func ActorFromContext(ctx context.Context) *actor.Actor {
	a, _ := ctx.Value(actorContextKey{}).(*actor.Actor)
	return a
}

func writeVerifyError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
