// Package contextx carries request-scoped values through context.Context.
package contextx

type contextKey int

const requestIDKey contextKey = iota
