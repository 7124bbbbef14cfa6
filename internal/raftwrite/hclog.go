package raftwrite

import (
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/zap"
)

// hcLogAdapter routes hashicorp/raft's internal hclog.Logger calls into the
// server's zap logger, so Raft's own diagnostics land in the same
// structured log stream as the rest of the engine.
type hcLogAdapter struct {
	log *zap.SugaredLogger
	name string
}

func newHCLogAdapter(z *zap.Logger) hclog.Logger {
	return &hcLogAdapter{log: z.Sugar(), name: "raft"}
}

func (a *hcLogAdapter) Log(level hclog.Level, msg string, args ...any)   { a.log.Debugw(msg, args...) }
func (a *hcLogAdapter) Trace(msg string, args ...any)                    { a.log.Debugw(msg, args...) }
func (a *hcLogAdapter) Debug(msg string, args ...any)                    { a.log.Debugw(msg, args...) }
func (a *hcLogAdapter) Info(msg string, args ...any)                     { a.log.Infow(msg, args...) }
func (a *hcLogAdapter) Warn(msg string, args ...any)                     { a.log.Warnw(msg, args...) }
func (a *hcLogAdapter) Error(msg string, args ...any)                    { a.log.Errorw(msg, args...) }
func (a *hcLogAdapter) IsTrace() bool                                    { return false }
func (a *hcLogAdapter) IsDebug() bool                                    { return true }
func (a *hcLogAdapter) IsInfo() bool                                     { return true }
func (a *hcLogAdapter) IsWarn() bool                                     { return true }
func (a *hcLogAdapter) IsError() bool                                    { return true }
func (a *hcLogAdapter) ImpliedArgs() []any                               { return nil }
func (a *hcLogAdapter) With(args ...any) hclog.Logger                    { return a }
func (a *hcLogAdapter) Name() string                                     { return a.name }
func (a *hcLogAdapter) Named(name string) hclog.Logger                   { return &hcLogAdapter{log: a.log, name: name} }
func (a *hcLogAdapter) ResetNamed(name string) hclog.Logger              { return a.Named(name) }
func (a *hcLogAdapter) SetLevel(level hclog.Level)                       {}
func (a *hcLogAdapter) GetLevel() hclog.Level                            { return hclog.Debug }
func (a *hcLogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(io.Discard, "", 0)
}
func (a *hcLogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer { return io.Discard }
