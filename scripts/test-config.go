// test-config.go - loads the effective sentinel-core configuration the
// same way the server does and prints the knobs that matter during a
// deployment review. Exits non-zero when validation fails, so it can
// gate a rollout.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/opsforge/sentinel-core/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("configuration rejected: %v", err)
		os.Exit(1)
	}

	fmt.Printf("environment:       %s\n", cfg.Environment)
	fmt.Printf("port:              %d\n", cfg.Port)
	fmt.Printf("data_dir:          %s\n", cfg.DataDir)
	fmt.Printf("rules path:        %s (watch=%v)\n", cfg.Rules.Path, cfg.Rules.Watch)
	fmt.Printf("sops path:         %s\n", cfg.SOPs.Path)
	fmt.Printf("fixtures dir:      %s\n", cfg.Correlate.FixturesDir)
	fmt.Printf("cache:             enabled=%v node=%s\n", cfg.Cache.Enabled, cfg.Cache.Node)
	fmt.Printf("weaviate:          enabled=%v host=%s class=%s\n", cfg.Weaviate.Enabled, cfg.Weaviate.Host, cfg.Weaviate.Class)
	fmt.Printf("model provider:    %s\n", cfg.Models.Provider)
	if cfg.Models.Provider == "anthropic" {
		masked := "unset"
		if cfg.Models.APIKey != "" {
			masked = fmt.Sprintf("set (%d chars)", len(cfg.Models.APIKey))
		}
		fmt.Printf("anthropic api key: %s\n", masked)
	}
	fmt.Printf("safety floors:     confidence=%.2f read_only=%.2f\n", cfg.Safety.ConfidenceFloor, cfg.Safety.ReadOnlyFloor)
	fmt.Printf("cooldown:          %ds per (resource,sop); global %d per %ds\n",
		cfg.Safety.CooldownSeconds, cfg.Safety.GlobalMaxExecutions, cfg.Safety.GlobalWindowSeconds)
	fmt.Printf("approval ttl:      %ds\n", cfg.Safety.ApprovalTTLSeconds)
	fmt.Printf("pipeline deadline: %ds\n", cfg.Pipeline.DeadlineSeconds)

	fmt.Println("\nconfiguration OK")
}
