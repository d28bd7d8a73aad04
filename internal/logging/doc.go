// Package logging configures slog for the daemon and CLI: a human-readable
// console handler for interactive output and a JSON handler appended to the
// log file, fanned out together. Helpers expose standardized attribute keys
// so job, media, and stage identifiers stay greppable across components.
package logging
