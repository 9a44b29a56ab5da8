package auth

import "time"

// TokenValidAt decides whether a token minted at issuedAt is still good given
// the user's credential-change watermark. A token is invalid exactly when it
// predates the watermark; the one-second backdating applied when the
// watermark is written covers same-instant races, so no revocation list is
// needed.
func TokenValidAt(issuedAt, credentialChangedAt time.Time) bool {
	return !issuedAt.Before(credentialChangedAt)
}
