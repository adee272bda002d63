// internal/browser/tools.go
package browser

import (
	"github.com/invopop/jsonschema"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
)

var toolReflector = &jsonschema.Reflector{
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: false,
}

// parametersSchema reflects an argument struct into a standalone JSON schema.
func parametersSchema(v interface{}) *jsonschema.Schema {
	s := toolReflector.Reflect(v)
	s.Version = ""
	s.ID = ""
	return s
}

// Tools returns the capability declaration sent with every model request:
// the computer tool followed by the side-tool functions.
func (c *Computer) Tools() []schemas.Tool {
	tools := []schemas.Tool{schemas.NewComputerTool(c.width, c.height, c.environment)}
	return append(tools, FunctionTools()...)
}

// FunctionTools declares the side-tool functions.
func FunctionTools() []schemas.Tool {
	return []schemas.Tool{
		{
			Type:        schemas.ToolFunction,
			Name:        FuncCopyTextFromPage,
			Description: "Return the visible text of the current page.",
			Parameters:  parametersSchema(&noArgs{}),
		},
		{
			Type:        schemas.ToolFunction,
			Name:        FuncCopyTextFromSelector,
			Description: "Wait for an element matching a CSS selector and return its visible text.",
			Parameters:  parametersSchema(&selectorArgs{}),
		},
		{
			Type:        schemas.ToolFunction,
			Name:        FuncGetCurrentURL,
			Description: "Return the URL of the active tab.",
			Parameters:  parametersSchema(&noArgs{}),
		},
		{
			Type:        schemas.ToolFunction,
			Name:        FuncGetTypedText,
			Description: "Return all text typed into the page during this session.",
			Parameters:  parametersSchema(&noArgs{}),
		},
	}
}
