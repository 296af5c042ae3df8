// Package logging builds the slog loggers used throughout cadence and
// defines the standardized attribute keys components attach to records.
package logging
