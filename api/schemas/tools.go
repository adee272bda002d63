package schemas

// -- Capability Declaration Schemas --

const (
	ToolComputerUsePreview = "computer_use_preview"
	ToolFunction           = "function"

	EnvironmentBrowser = "browser"
)

// Tool is one entry of the capability declaration sent with every model request.
type Tool struct {
	Type string `json:"type"`

	// computer_use_preview
	DisplayWidth  int    `json:"display_width,omitempty"`
	DisplayHeight int    `json:"display_height,omitempty"`
	Environment   string `json:"environment,omitempty"`

	// function
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

// NewComputerTool declares the computer-use capability for a display of the given size.
func NewComputerTool(width, height int, environment string) Tool {
	return Tool{
		Type:          ToolComputerUsePreview,
		DisplayWidth:  width,
		DisplayHeight: height,
		Environment:   environment,
	}
}
