package types

// Model describes a locally available model directory.
type Model struct {
	// Stable identifier in owner/name form.
	// example: tinyllama/tinyllama-1.1b-chat
	ID string `json:"id" example:"tinyllama/tinyllama-1.1b-chat"`
	// Human-friendly name.
	// example: TinyLlama 1.1B Chat
	Name string `json:"name" example:"TinyLlama 1.1B Chat"`
	// Absolute path to the model directory on disk.
	// example: /home/user/models/tinyllama/tinyllama-1.1b-chat
	Path string `json:"path" example:"/home/user/models/tinyllama/tinyllama-1.1b-chat"`
	// Approximate on-disk size in MB.
	// example: 1100
	SizeMB int `json:"size_mb,omitempty" example:"1100"`
}
