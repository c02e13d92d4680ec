package llm

// ConversationTurn is one entry of the chat history shown to the user.
// Turns are never mutated after creation.
type ConversationTurn struct {
	Role Role   `json:"role"` // RoleUser or RoleAssistant
	Text string `json:"text"`
}
