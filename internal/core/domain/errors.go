package domain

import "errors"

// --- ERREURS DU DOMAINE ---
var (
	// ErrStoreUnavailable : timeout ou panne d'un store. Retryable côté appelant (5xx).
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidCursor : curseur illisible, falsifié ou expiré.
	// Les services le traitent comme "pas de curseur" (première page).
	ErrInvalidCursor = errors.New("invalid cursor")
)
