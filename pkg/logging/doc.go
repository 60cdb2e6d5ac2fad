// Package logging provides a small subsystem-tagged logging layer on top of
// log/slog. Handlers are configured once at startup via Init; all call sites
// use the package-level Debug/Info/Warn/Error functions with a subsystem name
// as the first argument so log output can be filtered per component.
package logging
