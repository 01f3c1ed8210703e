package builtin

import (
	"context"

	"github.com/spf13/cast"

	"github.com/gimlelabs/hugin/internal/tool"
)

// Echo returns its message argument unchanged. Useful for wiring checks and
// deterministic tests.
type Echo struct{}

// NewEcho creates the echo tool.
func NewEcho() *Echo { return &Echo{} }

func (*Echo) Name() string        { return "echo" }
func (*Echo) Description() string { return "Echoes the msg argument back as the tool result." }

func (*Echo) Params() []tool.Param {
	return []tool.Param{{Name: "msg", Required: true, Description: "Message to echo."}}
}

func (*Echo) Execute(_ context.Context, inv tool.Invocation) (*tool.Result, error) {
	return tool.Response(map[string]any{"echoed": cast.ToString(inv.Args["msg"])}), nil
}
