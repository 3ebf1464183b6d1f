package cmd

import (
	"log/slog"

	"github.com/gymops/automation/pkg/ai"
	"github.com/gymops/automation/pkg/config"
	"github.com/gymops/automation/pkg/facebook"
	"github.com/gymops/automation/pkg/messaging"
)

// NewAIProvider returns an OpenAI-compatible provider behind a circuit breaker, or
// ai.Disabled when no key and no base URL are configured.
func NewAIProvider(cfg *config.Config, logger *slog.Logger) ai.Provider {
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		logger.Info("AI completions disabled")

		return ai.Disabled{}
	}

	provider := ai.NewOpenAIProvider(ai.OpenAIConfig{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
	}, logger)

	return ai.NewCircuitBreakerProvider(provider, ai.CircuitBreakerConfig{}, logger)
}

// NewSender posts to the messaging gateway when one is configured and only logs otherwise.
func NewSender(cfg *config.Config, logger *slog.Logger) messaging.Sender {
	if cfg.MessagingURL == "" {
		logger.Info("Messaging gateway not configured, messages are logged only")

		return messaging.NewLogSender(logger)
	}

	return messaging.NewHTTPSender(messaging.HTTPSenderConfig{
		URL:           cfg.MessagingURL,
		Token:         cfg.MessagingToken,
		RatePerSecond: cfg.MessagingRate,
		Burst:         int(cfg.MessagingRate) + 1,
	}, logger)
}

// NewLeadFetcher returns nil unless lead enrichment is enabled.
func NewLeadFetcher(cfg *config.Config, logger *slog.Logger) facebook.LeadFetcher {
	if !cfg.FacebookEnrich {
		return nil
	}

	return facebook.NewGraphClient(facebook.GraphConfig{BaseURL: cfg.FacebookGraphURL}, logger)
}
