// Package core orders server interceptors independently of the order in
// which options were applied.
package core

import (
	"cmp"
	"slices"

	"google.golang.org/grpc"
)

type middleware struct {
	name   string
	order  int
	unary  grpc.UnaryServerInterceptor
	stream grpc.StreamServerInterceptor
}

// MiddlewareBuilder collects named interceptor pairs. Lower order values run
// first (outermost); equal orders keep registration order. Adding a name a
// second time replaces the earlier entry.
type MiddlewareBuilder struct {
	entries []middleware
}

// Add registers an interceptor pair. Either side may be nil.
func (b *MiddlewareBuilder) Add(name string, order int, unary grpc.UnaryServerInterceptor, stream grpc.StreamServerInterceptor) {
	m := middleware{name: name, order: order, unary: unary, stream: stream}
	for i := range b.entries {
		if b.entries[i].name == name {
			b.entries[i] = m
			return
		}
	}
	b.entries = append(b.entries, m)
}

func (b *MiddlewareBuilder) sorted() []middleware {
	out := slices.Clone(b.entries)
	slices.SortStableFunc(out, func(a, c middleware) int { return cmp.Compare(a.order, c.order) })
	return out
}

// Names returns the registered names in execution order.
func (b *MiddlewareBuilder) Names() []string {
	var names []string
	for _, m := range b.sorted() {
		names = append(names, m.name)
	}
	return names
}

// Build returns the unary and stream interceptors in execution order.
func (b *MiddlewareBuilder) Build() ([]grpc.UnaryServerInterceptor, []grpc.StreamServerInterceptor) {
	var unary []grpc.UnaryServerInterceptor
	var stream []grpc.StreamServerInterceptor
	for _, m := range b.sorted() {
		if m.unary != nil {
			unary = append(unary, m.unary)
		}
		if m.stream != nil {
			stream = append(stream, m.stream)
		}
	}
	return unary, stream
}
