// Package session holds the logged-in state of the process and the
// background monitor that keeps re-verifying it.
//
// A Store is created once at startup and shared by every command. A Monitor
// spawns at most one re-verification task per Store; the task's Handle lives
// in the Store so that Logout can stop it. A failed re-verification is handed
// to the Terminator, which in production exits the process.
package session
