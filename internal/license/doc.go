// Package license exchanges a user's activation card for a time-limited session.
//
// # Protocol
//
// Authenticate runs the following steps and stops at the first failure:
//
//	1. reject an empty key
//	2. derive the machine fingerprint (empty means the machine cannot be bound)
//	3. POST {"key","hwid"} to {base}/api/cards/verify
//	4. decode the JSON answer
//	5. honour success=false with the server's own error text
//	6. require a card with status "used"
//	7. require an RFC 3339 expiredAt and check it against the authority's
//	   serverTime, or the local clock when none was sent
//
// Every failure is an *AuthError whose Kind names the step and whose message
// is the text shown to the user:
//
//	_, err := auth.Authenticate(ctx, key)
//	if errors.Is(err, license.ErrCardExpired) {
//	    // the authority revoked the card
//	}
//
// # Transport
//
// Client talks to the authority over HTTP with a bounded timeout. A timeout
// is reported like any other transport failure (KindNetwork). The response
// status code is not inspected; the body alone decides the outcome.
package license
