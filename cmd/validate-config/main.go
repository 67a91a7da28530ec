package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/sources"
)

/* validate-config - Standalone CLI tool to validate a collector or forwarder config file
 * Usage: go run ./cmd/validate-config [collector|forwarder] [config.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	role := "collector"
	configFile := "config.yaml"
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "collector" || args[0] == "forwarder") {
		role = args[0]
		args = args[1:]
	}
	if len(args) > 0 {
		configFile = args[0]
	}

	fmt.Printf("Validating %s config file: %s\n", role, configFile)
	fmt.Println(strings.Repeat("-", 50))

	var err error
	switch role {
	case "forwarder":
		err = validateForwarder(configFile)
	default:
		err = validateCollector(configFile)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nAll checks passed!\n")
	os.Exit(0)
}

func validateCollector(path string) error {
	cfg, err := config.LoadCollector(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	loader, err := sources.FromConfig(cfg.WebhookSources)
	if err != nil {
		return err
	}
	if cfg.SourcesFile != "" {
		if err := loader.Load(cfg.SourcesFile); err != nil {
			return err
		}
	}

	list := loader.List()
	fmt.Printf("VALIDATION PASSED\n\n")
	fmt.Printf("Queue type: %s\n", cfg.QueueType)
	fmt.Printf("Listen:     %s\n", cfg.Addr())
	fmt.Printf("Loaded %d source(s):\n", len(list))
	for i, s := range list {
		fmt.Printf("\n%d. Source: %s\n", i+1, s.Name)
		if s.RequiresSignature() {
			fmt.Printf("   Signature header: %s\n", s.SignatureHeader)
		} else {
			fmt.Printf("   Signature validation: disabled\n")
		}
	}
	return nil
}

func validateForwarder(path string) error {
	cfg, err := config.LoadForwarder(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Printf("VALIDATION PASSED\n\n")
	fmt.Printf("Queue type:     %s\n", cfg.QueueType)
	fmt.Printf("Target URL:     %s\n", cfg.TargetURL)
	fmt.Printf("Retry attempts: %d\n", cfg.RetryAttempts)
	fmt.Printf("Retry delay:    %s\n", cfg.RetryDelayDuration())
	fmt.Printf("Timeout:        %s\n", cfg.TimeoutDuration())
	fmt.Printf("Static headers: %d\n", len(cfg.Headers))
	return nil
}
