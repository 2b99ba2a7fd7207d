package tracing

import (
	"io"

	"github.com/caarlos0/env/v6"
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go/config"
	jaegerzap "github.com/uber/jaeger-client-go/log/zap"
	"go.uber.org/zap"
)

// JaegerConfig is read from JAEGER_* environment variables
type JaegerConfig struct {
	Endpoint     string  `env:"JAEGER_ENDPOINT"`
	ServiceName  string  `env:"JAEGER_SERVICE_NAME" envDefault:"phish-guard"`
	AgentHost    string  `env:"JAEGER_AGENT_HOST" envDefault:"localhost"`
	AgentPort    string  `env:"JAEGER_AGENT_PORT" envDefault:"6831"`
	Enabled      bool    `env:"JAEGER_ENABLED" envDefault:"false"`
	LogSpans     bool    `env:"JAEGER_REPORTER_LOG_SPANS" envDefault:"false"`
	SamplerType  string  `env:"JAEGER_SAMPLER_TYPE" envDefault:"const"`
	SamplerParam float64 `env:"JAEGER_SAMPLER_PARAM" envDefault:"1"`
}

// LoadJaegerConfig parses the tracer settings from the environment
func LoadJaegerConfig() (*JaegerConfig, error) {
	cfg := &JaegerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewJaegerTracer builds a tracer; a disabled config yields a no-op tracer
func NewJaegerTracer(jaegerConfig *JaegerConfig, logger *zap.Logger) (opentracing.Tracer, io.Closer, error) {
	cfg := initJaeger(jaegerConfig)
	return cfg.NewTracer(config.Logger(jaegerzap.NewLogger(logger)))
}

// InitGlobalTracer installs the tracer described by the environment as the
// global tracer and returns its closer
func InitGlobalTracer(logger *zap.Logger) (io.Closer, error) {
	cfg, err := LoadJaegerConfig()
	if err != nil {
		return nil, err
	}
	tracer, closer, err := NewJaegerTracer(cfg, logger)
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	if cfg.Enabled {
		logger.Info("Jaeger tracing enabled", zap.String("service", cfg.ServiceName))
	}
	return closer, nil
}

func initJaeger(jaegerConfig *JaegerConfig) *config.Configuration {
	cfg := &config.Configuration{
		ServiceName: jaegerConfig.ServiceName,
		Disabled:    !jaegerConfig.Enabled,
		Sampler: &config.SamplerConfig{
			Type:  jaegerConfig.SamplerType,
			Param: jaegerConfig.SamplerParam,
		},
		Reporter: &config.ReporterConfig{
			LogSpans: jaegerConfig.LogSpans,
		},
	}

	if jaegerConfig.Endpoint != "" {
		cfg.Reporter.CollectorEndpoint = jaegerConfig.Endpoint
	} else {
		cfg.Reporter.LocalAgentHostPort = jaegerConfig.AgentHost + ":" + jaegerConfig.AgentPort
	}
	return cfg
}
