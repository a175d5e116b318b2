// Package config loads the cardauth configuration.
//
// # Configuration Sources
//
// Values are applied in the following order, later sources winning:
//
//	1. Compiled defaults (Default)
//	2. A .env file in the working directory
//	3. config.yml (working directory, executable directory, or CARDAUTH_CONFIG_FILE)
//	4. Environment variables prefixed with CARDAUTH_
//
// The backend address may also be given with the unprefixed BACKEND_URL
// variable:
//
//	BACKEND_URL=https://cards.example.com ./cardauth
//
// # Modes
//
// ModeRelease makes a failed startup connectivity probe fatal and resolves
// relative paths against the executable directory. ModeDevelopment resolves
// them against the project root.
package config
