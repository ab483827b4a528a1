package backend

// ChatRequest represents the request body for POST /chat/
type ChatRequest struct {
	Query          string  `json:"query"`
	ChatbotID      string  `json:"chatbot_id"`
	ConversationID *string `json:"conversation_id"` // null until the backend assigns one
}

// ChatResponse represents the response from POST /chat/
type ChatResponse struct {
	Answer         string `json:"answer,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
	LimitReached   bool   `json:"limit_reached,omitempty"`
	RetryAfter     int    `json:"retry_after,omitempty"`
}

// FeedbackRequest represents the request body for POST /chat/feedback/
type FeedbackRequest struct {
	ConversationID string `json:"conversation_id"`
	Rating         int    `json:"rating"`
	Description    string `json:"description"`
}

// FeedbackResponse represents the response from POST /chat/feedback/
type FeedbackResponse struct {
	Success    bool   `json:"success"`
	FeedbackID string `json:"feedback_id,omitempty"`
	Error      string `json:"error,omitempty"`
}
