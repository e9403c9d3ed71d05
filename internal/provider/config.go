// Package provider selects and constructs the chat model used for answer
// generation. Supported backends: Ollama, OpenAI, Azure OpenAI, AWS Bedrock,
// Google Gemini.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama configures the Ollama backend.
type ProviderOllama struct {
	// Host is the Ollama base URL (e.g. http://localhost:11434).
	Host string
	// Model is the Ollama model name (e.g. "llama3").
	Model string
}

// ProviderOpenAI configures the OpenAI backend.
type ProviderOpenAI struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string
	// Model is the model name (e.g. "gpt-4o").
	Model string
}

// ProviderAzureOpenAI configures the Azure OpenAI backend.
type ProviderAzureOpenAI struct {
	// APIKey authenticates against the Azure OpenAI resource.
	APIKey string
	// Endpoint is the resource endpoint URL.
	Endpoint string
	// Deployment is the deployment name to invoke.
	Deployment string
	// APIVersion is the REST API version (e.g. "2024-02-01").
	APIVersion string
}

// ProviderBedrock configures the AWS Bedrock backend. Credentials are
// resolved via the standard AWS SDK chain, never stored here.
type ProviderBedrock struct {
	// AWSRegion is the region hosting the model.
	AWSRegion string
	// ModelID is the Bedrock model identifier.
	ModelID string
	// Endpoint optionally overrides the Bedrock-compatible endpoint URL.
	Endpoint string
	// APIKey is the gateway key when the endpoint requires one.
	APIKey string
}

// ProviderGemini configures the Google Gemini backend.
type ProviderGemini struct {
	// APIKey is the AI Studio API key.
	APIKey string
	// Model is the Gemini model name (e.g. "gemini-1.5-pro").
	Model string
}

// SharedTuning holds generation parameters common to all backends.
type SharedTuning struct {
	// MaxTokens caps the tokens the model may generate per answer.
	MaxTokens int
	// Temperature controls response randomness (0.0 to 1.0).
	Temperature float32
}

// Config holds the full provider configuration. Exactly one backend section
// is consulted, selected by Backend.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Bedrock     ProviderBedrock
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// Validate checks that the selected backend's required fields are set. Error
// messages name the environment variable that populates the missing field so
// startup failures are actionable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: BEDROCK_MODEL_ID is required for bedrock backend")
		}
		if c.Bedrock.AWSRegion == "" {
			return fmt.Errorf("provider: AWS_REGION is required for bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: ollama, openai, azure, bedrock, gemini)", c.Backend)
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment name refers to a
// reasoning-class model (o-series or codex). These deployments reject the
// temperature parameter, so the Azure constructor must not send it.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range []string{"o1", "o3", "o4", "codex"} {
		if d == prefix || strings.HasPrefix(d, prefix+"-") {
			return true
		}
	}
	return false
}
