// Package config handles loading and validating ESPLEDS Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ESPLEDS_*)
//   - Validation of required fields
//   - Default value handling
//
// Durations are written in Go syntax in YAML ("30s", "1500ms").
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Discovery.Port)
package config
