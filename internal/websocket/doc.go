// Package websocket pushes session events to connected shell windows.
//
// A Hub subscribes to the event bus and fans every event out as
// {"type","timestamp","data"} JSON text frames. Broadcast never blocks the
// publisher; slow clients are disconnected instead.
package websocket
