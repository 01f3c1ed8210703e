// Package builtin provides the runtime's built-in tools: the suspension
// producers (finish, ask_human, wait, delegate) and small utilities used by
// tests and dry runs.
package builtin

import (
	"github.com/gimlelabs/hugin/internal/tool"
)

// RegisterAll registers every builtin tool on the registry.
func RegisterAll(registry *tool.Registry) {
	registry.MustRegister(
		NewEcho(),
		NewGetState(),
		NewSetState(),
		NewFinish(),
		NewAskHuman(),
		NewWait(),
		NewDelegate(),
	)
}
