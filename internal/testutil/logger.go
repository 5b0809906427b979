package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that drops every record. Sweep and
// store tests pass it so expected-failure paths don't spam the test output.
//
// log.Logger aliases *slog.Logger, so this is interchangeable with
// log.NewNop(); use the latter in code that already imports internal/log.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
