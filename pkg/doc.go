// Package pkg holds what the softmsc host stack shares across packages:
// component-tagged logging and the sentinel errors every layer reports.
//
// # Logging
//
// Records carry a component key and go through one [log/slog] logger.
// The default writes logfmt to stderr through go-kit at warn level:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentMSC, "capacity", "lun", 0, "blocks", 1024)
//
// Binaries that already log with go-kit hand their logger over so that
// engine records share its filter and fields:
//
//	pkg.SetLogger(pkg.NewKitLogger(logger))
//
// # Errors
//
// Layers wrap the sentinels with context and callers match them with
// errors.Is. StatusOf folds an error into a short label for logs and
// metrics:
//
//	if pkg.StatusOf(err).Transient() {
//	    // resubmit
//	}
package pkg
