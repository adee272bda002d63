// File: internal/mcp/types.go
package mcp

// CommandRequest defines the structure of an incoming command.
type CommandRequest struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params"`
}

// CommandResponse is the envelope of every JSON API response.
type CommandResponse struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// SearchParams defines parameters for the "search" command.
type SearchParams struct {
	Query string `json:"query"`
}

// FetchParams defines parameters for the "fetch" command.
type FetchParams struct {
	ID string `json:"id"`
}

// Document is a full record of the demo catalog. URL is always present,
// and null when the record has no address.
type Document struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Text  string  `json:"text"`
	URL   *string `json:"url"`
}

// SearchResults wraps the hits of a search.
type SearchResults struct {
	Results []Document `json:"results"`
}
