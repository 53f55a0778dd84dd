package actor

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Handler serves local actor documents so remote peers can resolve our
// public keys.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// HandleGetActor serves GET /users/{username}.
func (h *Handler) HandleGetActor(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	a, err := h.store.LocalActorByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "actor not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}

	doc := map[string]any{
		"@context":          []string{"https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"},
		"id":                a.URI,
		"type":              "Person",
		"preferredUsername": a.Username,
		"inbox":             a.Inbox,
		"publicKey": map[string]string{
			"id":           a.URI + "#main-key",
			"owner":        a.URI,
			"publicKeyPem": a.PublicKeyPEM,
		},
	}

	w.Header().Set("Content-Type", "application/activity+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(doc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
