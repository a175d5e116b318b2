// Package http exposes the shell commands over a loopback HTTP API.
//
// Handlers are thin: they decode and validate the request, call a service
// and render the result with go-chi/render. Failures are RFC 7807 problem
// documents. Login failures carry the user-facing message in "detail" and
// the failure kind in "reason" so the shell can show the message verbatim.
//
// # Routes
//
//	POST /api/auth/login     {"password"} -> {"success","expiration_timestamp"}
//	POST /api/auth/monitor   {"password"} -> 202 {"started"}
//	GET  /api/auth/status    -> {"is_logged_in","user_info"}
//	PUT  /api/auth/status    {"is_logged_in","user_info"} -> 204
//	POST /api/auth/logout    -> 204
//	GET  /api/data           -> user document
//	PUT  /api/data           user document -> 204
//	GET  /api/app-info       -> {"app","version"}
//	GET  /healthz, /readyz
package http
