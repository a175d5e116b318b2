package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cardauth/internal/license"
)

// Authority is a fake card authority. It answers GET /api with 200 and
// POST /api/cards/verify with the body set by Respond.
type Authority struct {
	*httptest.Server

	mu       sync.Mutex
	body     string
	requests []license.VerifyRequest
	probes   int
}

// NewAuthority starts a fake authority that accepts every key until told
// otherwise. It is closed when the test ends.
func NewAuthority(t testing.TB) *Authority {
	t.Helper()
	a := &Authority{body: UsedCard("2999-01-01T00:00:00Z")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.probes++
		a.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/cards/verify", func(w http.ResponseWriter, r *http.Request) {
		var req license.VerifyRequest
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &req)

		a.mu.Lock()
		a.requests = append(a.requests, req)
		body := a.body
		a.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})

	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)
	return a
}

// Respond sets the body returned by later verify calls
func (a *Authority) Respond(body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.body = body
}

// Requests returns a copy of the verify requests received so far
func (a *Authority) Requests() []license.VerifyRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]license.VerifyRequest(nil), a.requests...)
}

// VerifyCount returns the number of verify calls received
func (a *Authority) VerifyCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// ProbeCount returns the number of liveness probes received
func (a *Authority) ProbeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.probes
}

// UsedCard is a granted answer for a card expiring at expiredAt (RFC 3339)
func UsedCard(expiredAt string) string {
	return fmt.Sprintf(`{"success":true,"card":{"id":1,"status":"used","expiredAt":%q}}`, expiredAt)
}

// UsedCardAt is UsedCard with the authority's clock attached
func UsedCardAt(expiredAt string, serverTime int64) string {
	return fmt.Sprintf(`{"success":true,"card":{"id":1,"status":"used","expiredAt":%q},"serverTime":%d}`, expiredAt, serverTime)
}

// CardWithStatus is a successful answer carrying only a card status
func CardWithStatus(status string) string {
	return fmt.Sprintf(`{"success":true,"card":{"status":%q}}`, status)
}

// Rejected is a refusal carrying the server's own message
func Rejected(message string) string {
	return fmt.Sprintf(`{"success":false,"error":%q}`, message)
}
