// Package app wires the card session engine to the loopback shell API and
// manages the process lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration (.env, config.yml, CARDAUTH_* variables)
//	2. Initialize slog and OpenTelemetry
//	3. Build the fingerprint provider, authority client and authenticator
//	4. Create the session store, monitor, event bus and websocket hub
//	5. Mount the chi router and create the HTTP server
//
// # Startup Gate
//
// Start probes the card authority once before serving. In release mode an
// unreachable authority ends the process through the session Terminator;
// in development mode the failure is logged and the shell still starts.
//
// # Shutdown
//
// SIGINT and SIGTERM stop the server, cancel any running session monitor
// without terminating the process, and flush telemetry. Initialization
// errors are returned to main; the package exits the process only through
// the Terminator.
package app
