package types

// Message is one role-tagged turn of a conversation.
type Message struct {
	// Role of the author: system, user, or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Message text.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// GenerateRequest represents a generation request payload.
// The message list and parameters are immutable once submitted.
type GenerateRequest struct {
	// Ordered conversation turns, oldest first.
	Messages []Message `json:"messages"`
	// Sampling temperature in [0,2]. 0 means greedy decoding.
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability in (0,1].
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Maximum number of new tokens to generate (capped at 4096).
	// example: 256
	MaxTokens int `json:"max_tokens,omitempty" example:"256"`
	// Random seed for reproducibility; 0 or omitted lets the server choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
}

// LoadRequest asks the daemon to load a model.
type LoadRequest struct {
	// Model identifier in owner/name form.
	// example: tinyllama/tinyllama-1.1b-chat
	Model string `json:"model" example:"tinyllama/tinyllama-1.1b-chat"`
}

// ModelsResponse wraps the list of models returned by GET /v1/models.
type ModelsResponse struct {
	// List of locally available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// Usage contains token accounting for one generation.
type Usage struct {
	// Tokens consumed by the rendered prompt.
	// example: 128
	PromptTokens int `json:"prompt_tokens" example:"128"`
	// Tokens produced by the decode loop.
	// example: 256
	CompletionTokens int `json:"completion_tokens" example:"256"`
	// Sum of prompt and completion tokens.
	// example: 384
	TotalTokens int `json:"total_tokens" example:"384"`
}

// GovernorStatus reports the resource ledger for /v1/status.
type GovernorStatus struct {
	// Tokens currently held by in-flight generations.
	// example: 512
	ActiveTokens int `json:"active_tokens" example:"512"`
	// Global active-token ceiling.
	// example: 10000
	TokenCeiling int `json:"token_ceiling" example:"10000"`
	// Requests admitted in the trailing one-second window.
	// example: 2
	RequestsLastSecond int `json:"requests_last_second" example:"2"`
	// Requests admitted in the trailing sixty-second window.
	// example: 14
	RequestsLastMinute int `json:"requests_last_minute" example:"14"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	// Lifecycle state: idle, loading, loaded, or failed.
	// example: loaded
	State string `json:"state" example:"loaded"`
	// Identifier of the current or loading model, if any.
	// example: tinyllama/tinyllama-1.1b-chat
	Model string `json:"model,omitempty" example:"tinyllama/tinyllama-1.1b-chat"`
	// Load progress in [0,1]; meaningful while loading.
	// example: 0.4
	Progress float64 `json:"progress" example:"0.4"`
	// Last load error observed, if any.
	Error string `json:"error,omitempty"`
	// Resource governor ledger.
	Governor GovernorStatus `json:"governor"`
	// Uptime of the daemon in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
