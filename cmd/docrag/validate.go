// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/docrag/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	File        string `arg:"" optional:"" name:"config" help:"Configuration file path (defaults to --config)." placeholder:"PATH"`
	Format      string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	file := firstNonEmpty(c.File, cli.Config)
	if file == "" {
		return errors.New("no configuration file given")
	}
	_ = config.LoadDotEnvForConfig(file)

	cfg, err := config.Load(file)
	if err != nil {
		return printValidateError(c.Format, file, "load", err)
	}
	if err := cfg.Validate(); err != nil {
		return printValidateError(c.Format, file, "validate", err)
	}

	if c.PrintConfig {
		return printExpandedConfig(c.Format, file, cfg)
	}
	printSuccess(c.Format, file)
	return nil
}

// validationIssue is one problem reported in JSON output.
type validationIssue struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type validateOutput struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []validationIssue `json:"errors,omitempty"`
}

func printValidateError(format, file, kind string, err error) error {
	switch format {
	case "json":
		printJSONResult(false, file, []validationIssue{{Type: kind, Message: err.Error()}})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Configuration Error (%s)\n", kind)
		fmt.Fprintf(os.Stderr, "===========================\n\n")
		fmt.Fprintf(os.Stderr, "File:    %s\n", file)
		fmt.Fprintf(os.Stderr, "Error:   %s\n", err)
	default:
		fmt.Fprintf(os.Stderr, "%s: %s error: %s\n", file, kind, err)
	}
	return fmt.Errorf("config %s failed", kind)
}

func printSuccess(format, file string) {
	switch format {
	case "json":
		printJSONResult(true, file, nil)
	case "verbose":
		fmt.Fprintf(os.Stdout, "Configuration Validation Successful\n")
		fmt.Fprintf(os.Stdout, "===================================\n\n")
		fmt.Fprintf(os.Stdout, "File:   %s\n", file)
		fmt.Fprintf(os.Stdout, "Status: OK\n")
	default:
		fmt.Fprintf(os.Stdout, "%s: valid\n", file)
	}
}

func printExpandedConfig(format, file string, cfg *config.Config) error {
	if format == "json" {
		return printJSON(cfg)
	}

	fmt.Fprintf(os.Stdout, "# Expanded configuration from: %s\n", file)
	fmt.Fprintf(os.Stdout, "# (defaults applied, env vars resolved)\n\n")

	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config as YAML: %w", err)
	}
	return encoder.Close()
}

func printJSONResult(valid bool, file string, issues []validationIssue) {
	out := validateOutput{Valid: valid, File: file, Errors: issues}
	if err := printJSON(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}
