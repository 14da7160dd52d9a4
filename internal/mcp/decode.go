package mcp

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aimi/goalgraph/internal/errors"
)

// decode maps tool arguments onto T. JSON numbers arrive as float64, so the
// arguments are re-encoded rather than type-asserted. A mistyped argument is
// an INVALID_REQUEST naming the field.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var input T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return input, errors.NewInvalidRequest(fmt.Sprintf("arguments are not valid JSON: %v", err))
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && typeErr.Field != "" {
			gerr := errors.NewInvalidRequest(fmt.Sprintf("%s must be %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value))
			gerr.Details = map[string]any{"field": typeErr.Field}
			return input, gerr
		}
		return input, errors.NewInvalidRequest(fmt.Sprintf("invalid arguments: %v", err))
	}
	return input, nil
}
