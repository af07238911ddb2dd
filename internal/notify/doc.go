// Package notify surfaces transient outcome messages (the dashboard's toasts)
// through one or more channels: the structured log and an in-memory ring the
// API serves to clients.
package notify
