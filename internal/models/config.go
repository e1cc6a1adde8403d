package models

// Default validation bounds for user messages.
const (
	DefaultMinMessageLength = 1
	DefaultMaxMessageLength = 4000
)

// ChatConfig holds the validation and behavior parameters of a chat instance.
// It is immutable for the lifetime of the instance it configures.
type ChatConfig struct {
	// MinMessageLength and MaxMessageLength bound the trimmed length of user
	// messages. MaxMessageLength >= MinMessageLength >= 0 must hold.
	MinMessageLength int
	MaxMessageLength int

	// EnableStreaming selects the token-by-token delivery path. When false,
	// the synchronous fallback is used instead.
	EnableStreaming bool

	// ShowTimestamps is a display hint for UI surfaces.
	ShowTimestamps bool
}

// DefaultChatConfig returns the configuration used when the caller supplies
// none.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		MinMessageLength: DefaultMinMessageLength,
		MaxMessageLength: DefaultMaxMessageLength,
		EnableStreaming:  true,
		ShowTimestamps:   true,
	}
}
