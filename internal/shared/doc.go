// Package shared holds helpers used by more than one package's tests.
//
// The testutil subpackage provides a fake card authority (an httptest
// server speaking the verify protocol) and a slog handler that captures
// records for assertions. It must not be imported by production code.
package shared
