/*
Copyright 2024 The Defguard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package context wraps the standard context package with helpers for
// carrying a structured logger and a handful of request-scoped values
// (the authenticated caller, the gateway id) through call chains.
package context

import (
	"context"
	"log/slog"
)

// Context is an alias of the standard context.Context so packages that
// import this package don't also need to import "context" directly.
type Context = context.Context

// Re-exported constructors so call sites read exactly like the standard
// library.
var (
	Background     = context.Background
	TODO           = context.TODO
	WithCancel     = context.WithCancel
	WithTimeout    = context.WithTimeout
	WithDeadline   = context.WithDeadline
	WithValue      = context.WithValue
	Canceled       = context.Canceled
	DeadlineExceed = context.DeadlineExceeded
)

type loggerKey struct{}
type callerKey struct{}
type gatewayKey struct{}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx Context, log *slog.Logger) Context {
	return context.WithValue(ctx, loggerKey{}, log)
}

// LoggerFrom returns the logger carried by ctx, or slog.Default() if none
// was attached.
func LoggerFrom(ctx Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && log != nil {
		return log
	}
	return slog.Default()
}

// WithAuthenticatedCaller attaches the id of the caller that was
// authenticated for this request (gateway id, proxy id, or user id
// depending on the RPC surface).
func WithAuthenticatedCaller(ctx Context, id string) Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// AuthenticatedCallerFrom returns the id attached by WithAuthenticatedCaller.
func AuthenticatedCallerFrom(ctx Context) (string, bool) {
	id, ok := ctx.Value(callerKey{}).(string)
	return id, ok
}

// WithGatewayID attaches the id of the gateway a request/stream belongs to.
func WithGatewayID(ctx Context, id string) Context {
	return context.WithValue(ctx, gatewayKey{}, id)
}

// GatewayIDFrom returns the id attached by WithGatewayID.
func GatewayIDFrom(ctx Context) (string, bool) {
	id, ok := ctx.Value(gatewayKey{}).(string)
	return id, ok
}
