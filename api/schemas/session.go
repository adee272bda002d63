package schemas

import "encoding/json"

// -- Session State Schemas --

// NoResponseID keys a saved session that never received a model response.
const NoResponseID = "no_resp_id"

// SessionState is the unit of conversation persistence.
type SessionState struct {
	LastResponseID    string `json:"last_response_id"`
	ConversationItems []Item `json:"conversation_items"`
}

// Key returns the identifier a session is stored under.
func (s SessionState) Key() string {
	if s.LastResponseID == "" {
		return NoResponseID
	}
	return s.LastResponseID
}

// UnmarshalJSON also accepts the older {previous_response_id, conversation} layout.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	var w struct {
		LastResponseID     string `json:"last_response_id"`
		ConversationItems  []Item `json:"conversation_items"`
		PreviousResponseID string `json:"previous_response_id"`
		Conversation       []Item `json:"conversation"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.LastResponseID = w.LastResponseID
	if s.LastResponseID == "" {
		s.LastResponseID = w.PreviousResponseID
	}
	s.ConversationItems = w.ConversationItems
	if s.ConversationItems == nil {
		s.ConversationItems = w.Conversation
	}
	return nil
}
