// Package config loads and validates the governor configuration.
//
// # Overview
//
// A single YAML file (governor.yaml) is decoded on top of Default, so a file
// only needs the settings it changes. Validate runs the struct tags through
// go-playground/validator, checks the telemetry section, and unifies every
// catalog entry with the CUE definition #PolicyEntry.
//
// # Catalog
//
// The catalog section overrides built-in policies field by field:
//
//	catalog:
//	  fallback: content_generation
//	  entries:
//	    technical_seo_fix:
//	      max_pages: 10
//	      blast_radius:
//	        risk_level: high
//
// BuildCatalog merges these entries over policy.DefaultEntries and returns the
// immutable policy.Catalog handed to policy.NewEngine.
//
// # Usage Example
//
//	cfg, err := config.Load("governor.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	catalog, err := config.BuildCatalog(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
