package fnhost

import "context"

// Pattern: Decorator: each stage of the dispatcher wraps the next, so the
// order of the chain is the order in which admission, deadline, slot
// acquisition and retry apply.

// Middleware wraps a [Handler] with additional behavior.
type Middleware[Req, Resp any] func(next Handler[Req, Resp]) Handler[Req, Resp]

// Chain composes middlewares; the first is the outermost.
//
// Chain(a, b, c) produces a(b(c(next))). Chain() is the identity.
func Chain[Req, Resp any](middlewares ...Middleware[Req, Resp]) Middleware[Req, Resp] {
	return func(next Handler[Req, Resp]) Handler[Req, Resp] {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}

		return next
	}
}

type (
	tokenKey  struct{}
	ticketKey struct{}
)

// TicketFromContext returns the ticket of the request being served, or nil
// outside a dispatcher call. Handlers may read it, for example to log the
// attempt number, but must not modify it.
func TicketFromContext(ctx context.Context) *Ticket {
	t, _ := ctx.Value(ticketKey{}).(*Ticket)
	return t
}

func tokenFromContext(ctx context.Context) *Token {
	t, _ := ctx.Value(tokenKey{}).(*Token)
	return t
}
