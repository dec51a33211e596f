// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/feeaudit/pkg/validation"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure returned by Load and Validate.
var ErrInvalid = errors.New("invalid configuration")

// Environment variables applied on top of the file.
const (
	EnvBackend   = "FEEAUDIT_BACKEND"
	EnvRPCURL    = "FEEAUDIT_RPC_URL"
	EnvLogLevel  = "FEEAUDIT_LOG_LEVEL"
	EnvStorePath = "FEEAUDIT_STORE_PATH"
)

// DefaultPath returns ~/.feeaudit/feeaudit.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".feeaudit", "feeaudit.yaml"), nil
}

// Load reads, overrides and validates the configuration at path.
//
// Description:
//
//	An empty path means DefaultPath. When the file does not exist it is
//	created from DefaultConfig first. Environment variables listed above
//	override the file. The result is validated before it is returned.
//
// Inputs:
//
//	path - Config file location, or "".
//
// Outputs:
//
//	FeeAuditConfig - The effective configuration.
//	error - I/O, YAML, or ErrInvalid.
func Load(path string) (FeeAuditConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return FeeAuditConfig{}, err
		}
		path = p
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return FeeAuditConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return FeeAuditConfig{}, fmt.Errorf("failed to read the config file %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return FeeAuditConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of DefaultConfig, applies the environment and
// validates. Keys absent from data keep their default; maps and lists in
// data replace the defaults rather than merging into them.
func Parse(data []byte) (FeeAuditConfig, error) {
	cfg := DefaultConfig()
	cfg.Simulation.Balances = nil
	cfg.Simulation.BaseBalances = nil

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FeeAuditConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return FeeAuditConfig{}, err
	}
	return cfg, nil
}

// WriteDefault writes DefaultConfig to path. An existing file is only
// replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("config already exists at %s", path)
	}
	return createDefault(path)
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnv(cfg *FeeAuditConfig) {
	if v := os.Getenv(EnvBackend); v != "" {
		cfg.Audit.Backend = v
	}
	if v := os.Getenv(EnvRPCURL); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
}

// newValidator registers the address and amount tags used in types.go.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("address", func(fl validator.FieldLevel) bool {
		return validation.ValidateAddress(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := validation.ParseAmount(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks struct tags, tax policy bounds and backend requirements.
func Validate(cfg FeeAuditConfig) error {
	if err := newValidator().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Simulation.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: simulation.policy: %v", ErrInvalid, err)
	}
	if actual := cfg.Simulation.Quirks.ActualPolicy; actual != nil {
		if err := actual.Validate(); err != nil {
			return fmt.Errorf("%w: simulation.quirks.actual_policy: %v", ErrInvalid, err)
		}
	}
	if cfg.Audit.Backend == BackendChain {
		var missing []string
		if cfg.Chain.RPCURL == "" {
			missing = append(missing, "chain.rpc_url")
		}
		if cfg.Chain.Token == "" {
			missing = append(missing, "chain.token")
		}
		if cfg.Chain.Pair == "" {
			missing = append(missing, "chain.pair")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: chain backend requires %s", ErrInvalid, strings.Join(missing, ", "))
		}
	}
	return nil
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
