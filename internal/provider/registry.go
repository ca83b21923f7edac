package provider

// NewDefault constructs the Client implementation for a configured provider
// name, with defaultModel as the model used when a call names none; it
// returns nil for an unknown name.
func NewDefault(name Name, defaultModel string) Client {
	switch name {
	case GROQ:
		return NewGroqClient(defaultModel)
	case GEMINI:
		return NewGeminiClient(defaultModel)
	case COHERE:
		return NewCohereClient(defaultModel)
	case CEREBRAS:
		return NewCerebrasClient(defaultModel)
	case SAMBANOVA:
		return NewSambaNovaClient(defaultModel)
	default:
		return nil
	}
}
