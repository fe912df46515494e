package common

import (
	"fmt"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner
func PrintBanner(version string) {
	banner.Print("GenieOps", version)
}

// PrintStartupSummary prints the settings operators usually ask about first
func PrintStartupSummary(cfg *Config) {
	fmt.Printf("  server      http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  storage     %s\n", cfg.Storage.Badger.Path)
	fmt.Printf("  browsers    %d (%s, headless=%v)\n", cfg.Browser.PoolSize, cfg.Browser.Isolation, cfg.Browser.Headless)
	fmt.Printf("  workflow    enabled=%v concurrent=%d interval=%s retries=%d\n",
		cfg.Workflow.Enabled, cfg.Workflow.MaxConcurrent, cfg.Workflow.ProcessingInterval, cfg.Workflow.MaxRetries)
	fmt.Printf("  form reader %s (llm=%s)\n\n", cfg.FormReader.Strategy, cfg.LLM.DefaultProvider)
}
