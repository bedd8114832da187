package respond

// supportedModels lists the chat models we accept in configuration.
// Unknown models are still passed through to the provider; this list
// feeds a startup warning only.
var supportedModels = map[string]bool{
	"gpt-3.5-turbo":     true,
	"gpt-3.5-turbo-16k": true,
	"gpt-4":             true,
	"gpt-4-turbo":       true,
	"gpt-4o":            true,
	"gpt-4o-mini":       true,
}

// IsSupportedModel reports whether model is in the known allow-list.
func IsSupportedModel(model string) bool {
	return supportedModels[model]
}

// SupportedModels returns the known model names in no particular order.
func SupportedModels() []string {
	out := make([]string, 0, len(supportedModels))
	for m := range supportedModels {
		out = append(out, m)
	}
	return out
}
