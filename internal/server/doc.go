// Package server implements the real-time chat hub for digestchat.
//
// The implementation is organized into specialized files: the connection
// registry and accumulation trigger that every room owns, the per-connection
// session loop, the room-managing hub, the websocket client transport, and
// the HTTP surface with its configuration. Sessions relay every chat frame to
// their room and, when the room's trigger fires, summarize the accumulated
// text, persist the summary to history and broadcast it.
package server
