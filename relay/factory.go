package relay

import (
	"fmt"

	"github.com/charmbracelet/log"

	"polyscribe/config"
	"polyscribe/upstream"
	"polyscribe/upstream/deepgram"
	"polyscribe/upstream/gemini"
	"polyscribe/upstream/openai"
)

// NewAdapterFactory builds the production factory covering every provider
// family. Credentials come from config and stay opaque below this point.
func NewAdapterFactory(cfg *config.Config, logger *log.Logger) AdapterFactory {
	return func(spec config.ModelSpec) (upstream.Adapter, error) {
		switch spec.Family {
		case config.FamilyOpenAI:
			return openai.New(spec.ID, cfg.OpenAIKey, logger), nil
		case config.FamilyDeepgram:
			return deepgram.New(spec.ID, cfg.DeepgramKey, logger), nil
		case config.FamilyGemini:
			return gemini.New(spec.ID, cfg.GeminiKey, logger), nil
		default:
			return nil, fmt.Errorf("unknown provider family %q", spec.Family)
		}
	}
}
