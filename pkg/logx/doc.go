// Package logx wraps zerolog behind a small structured-logging facade.
//
// Components receive a Logger and attach fixed fields with With(). The
// Service owns the sinks (console, file, optional Telegram forwarding) and can
// be reconfigured at runtime; loggers created from it stay live across
// Apply() calls. The zero value of Logger is a safe no-op.
package logx
