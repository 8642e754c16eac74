// Package httpapi is the local-only HTTP/SSE surface over the runtime
// engine: threads, turns, the event stream, saved sessions, workspace
// status, automations, background tasks, and the skills/MCP sub-tool
// listings.
//
// It owns no state of its own - every handler is a thin adapter over
// internal/engine, internal/runtimelog, internal/sessions, and
// internal/automation, keeping transport concerns separate from domain
// logic.
package httpapi
