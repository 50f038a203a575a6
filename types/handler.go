package types

import "context"

// Handler processes a named request addressed to this side of the IPC link.
//
// data is the decoded request payload (plain JSON shapes: primitives, maps,
// slices). The returned value becomes the response payload and must satisfy
// the transmission constraint; a returned error travels back to the caller
// as a handler failure.
type Handler func(ctx context.Context, data any) (any, error)
