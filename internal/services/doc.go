// Package services implements the commands the shell invokes.
//
// # Services
//
//	AuthService    login, session monitor start, status get/set, logout
//	DataService    load and save of the user data document
//	HealthService  liveness, readiness against the card authority, app info
//
// Services take their collaborators through small interfaces and a
// *slog.Logger, and never hold the session lock across a network call.
//
// # Errors
//
// Login failures are returned as *license.AuthError wrapped with %w, so
// transports can recover the kind with errors.As and show the user-facing
// message unchanged.
package services
