// Package logx provides a small structured logging facade over zerolog.
//
// Components receive a Logger by value and tag themselves with With(comp=...).
// The backing Service supports hot-swapping sinks (console/file) at runtime
// without invalidating loggers already handed out.
package logx
