package ixnports

import (
	"context"
	"encoding/json"

	"github.com/voxhollow/interactions-go/ixn/model"
)

// ToolSpec describes a callable tool advertised to the service on create.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolExecutor runs one tool invocation for one function call. The
// coordinator dispatches calls concurrently and may cancel the context
// mid-flight; implementations should return promptly when it is done. A
// returned error is converted into an error-carrying result unless the
// coordinator runs fail-fast.
type ToolExecutor interface {
	Execute(ctx context.Context, call model.FunctionCallBlock) (model.FunctionResultBlock, error)
}
