// Package logging provides structured logging for Bellcore built on
// log/slog.
//
// Every component receives a *Logger (or a narrower interface it defines
// itself) and tags records with a component attribute via With. Output
// format, level and destination come from the logging section of the
// configuration.
package logging
