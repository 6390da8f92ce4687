package cmd

import (
	"fmt"

	"github.com/nextlevelbuilder/pagedclaw/internal/config"
	"github.com/nextlevelbuilder/pagedclaw/internal/driver"
)

func buildDriver(cfg *config.Config) (driver.Driver, error) {
	switch cfg.Model.Provider {
	case "anthropic":
		opts := []driver.AnthropicOption{driver.WithAnthropicModel(cfg.Model.Model)}
		if cfg.Model.APIBase != "" {
			opts = append(opts, driver.WithAnthropicBaseURL(cfg.Model.APIBase))
		}
		return driver.NewAnthropicDriver(cfg.Model.APIKey, opts...), nil
	case "openai", "openrouter", "groq", "deepseek":
		return driver.NewOpenAIDriver(cfg.Model.Provider, cfg.Model.APIKey, cfg.Model.APIBase, cfg.Model.Model), nil
	default:
		return nil, fmt.Errorf("cmd: unknown model provider %q", cfg.Model.Provider)
	}
}
