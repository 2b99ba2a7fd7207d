package di

import (
	"flag"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-guard/internal/adapters/filter"
	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/factory"
	"github.com/mikey/phish-guard/internal/logging"
)

// CLIFlags contains all command line flags for the CLI application
type CLIFlags struct {
	// Scorer flags
	ScorerMode string
	ModelsDir  string
	Fallback   bool

	// LLM provider flags
	Provider    string
	MaxTokens   int
	Temperature float64
	TopP        float64
	MaxBodySize int

	BedrockRegion  string
	BedrockModelID string

	GeminiAPIKey    string
	GeminiModelName string

	OpenAIAPIKey    string
	OpenAIModelName string

	// Detection flags
	Offline bool
	UserID  string

	// Input flags
	InputFile  string
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	return parseFlags(flag.CommandLine, nil)
}

func parseFlags(fs *flag.FlagSet, args []string) *CLIFlags {
	flags := &CLIFlags{}

	fs.StringVar(&flags.ScorerMode, "scorer", "ml", "Scorer (ml, heuristic, llm)")
	fs.StringVar(&flags.ModelsDir, "models", "./models", "Directory holding the model artifacts")
	fs.BoolVar(&flags.Fallback, "fallback", true, "Use the heuristic scorer when model artifacts are missing")

	fs.StringVar(&flags.Provider, "provider", "bedrock", "LLM provider for -scorer llm (bedrock, gemini, openai)")
	fs.IntVar(&flags.MaxTokens, "max-tokens", 500, "Maximum tokens for LLM response")
	fs.Float64Var(&flags.Temperature, "temperature", 0.1, "Temperature for LLM generation")
	fs.Float64Var(&flags.TopP, "top-p", 0.9, "Top-p for LLM generation")
	fs.IntVar(&flags.MaxBodySize, "max-body-size", 4096, "Maximum email body size to send to LLM")

	fs.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	fs.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-3-haiku-20240307-v1:0", "Bedrock model ID")

	fs.StringVar(&flags.GeminiAPIKey, "gemini-api-key", "", "API key for Google Gemini")
	fs.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-1.5-flash", "Gemini model name")

	fs.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI")
	fs.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4o-mini", "OpenAI model name")

	fs.BoolVar(&flags.Offline, "offline", false, "Skip WHOIS and DNS enrichment")
	fs.StringVar(&flags.UserID, "user", "cli", "User id the message is classified for")

	fs.StringVar(&flags.InputFile, "file", "", "Input email file (use stdin if not specified)")
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	fs.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	if args == nil {
		flag.Parse()
	} else {
		_ = fs.Parse(args)
	}
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	err := provideAll(container,
		func() *CLIFlags { return flags },
		func(flags *CLIFlags) (*zap.Logger, error) {
			return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
		},
		func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
			if flags.ConfigFile == "" {
				return createConfigFromFlags(flags), nil
			}
			cfg, err := config.NewWithFile(flags.ConfigFile)
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			offlineStack(cfg)
			return cfg, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if err := providePipeline(container); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.FilterFactory, svc *core.DetectionService, flags *CLIFlags) *filter.CliFilter {
		return f.CreateCLIFilter(svc, flags.Verbose)
	}); err != nil {
		return nil, err
	}
	return container, nil
}

// offlineStack keeps a single CLI run off the shared store, cache and broker
func offlineStack(cfg *config.Config) {
	v := cfg.GetViper()
	v.Set("store.driver", "memory")
	v.Set("cache.enabled", false)
	v.Set("events.enabled", false)
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	v.Set("scorer.mode", flags.ScorerMode)
	v.Set("scorer.fallback_to_heuristic", flags.Fallback)
	v.Set("models.dir", flags.ModelsDir)
	v.Set("enrichment.enabled", !flags.Offline)
	v.Set("llm.provider", flags.Provider)

	switch flags.Provider {
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
		v.Set("bedrock.max_tokens", flags.MaxTokens)
		v.Set("bedrock.temperature", flags.Temperature)
		v.Set("bedrock.top_p", flags.TopP)
		v.Set("bedrock.max_body_size", flags.MaxBodySize)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
		v.Set("gemini.max_tokens", flags.MaxTokens)
		v.Set("gemini.temperature", flags.Temperature)
		v.Set("gemini.top_p", flags.TopP)
		v.Set("gemini.max_body_size", flags.MaxBodySize)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
		v.Set("openai.max_tokens", flags.MaxTokens)
		v.Set("openai.temperature", flags.Temperature)
		v.Set("openai.top_p", flags.TopP)
		v.Set("openai.max_body_size", flags.MaxBodySize)
	}

	cfg := config.NewFromViper(v)
	offlineStack(cfg)
	return cfg
}
