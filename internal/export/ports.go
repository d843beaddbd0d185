// Package export defines the outbound port for mirroring closed sessions to
// an external revenue book.
package export

import (
	"context"

	"noleggio/internal/core"
)

// SessionWriter appends one closed session to the external book and returns
// an opaque row reference.
type SessionWriter interface {
	Append(ctx context.Context, s core.Session) (rowRef string, err error)
}
