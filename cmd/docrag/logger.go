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
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/logger"
)

const (
	LogFileEnvVar   = "LOG_FILE"
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFormatEnvVar = "LOG_FORMAT"
)

// cliLogger holds logger settings taken from flags or the environment.
// They win over the config file.
var cliLogger config.LoggerConfig

// initLoggerFromCLI initializes the logger before the config is loaded.
// Priority: CLI flags > env vars > defaults.
func initLoggerFromCLI(level, file, format string) (func(), error) {
	cliLogger = config.LoggerConfig{
		Level:  firstNonEmpty(level, os.Getenv(LogLevelEnvVar)),
		File:   firstNonEmpty(file, os.Getenv(LogFileEnvVar)),
		Format: firstNonEmpty(format, os.Getenv(LogFormatEnvVar)),
	}
	return initLogger(cliLogger)
}

// applyConfigLogger re-initializes the logger from the config file for
// every setting the command line and environment left unset.
func applyConfigLogger(cfg *config.Config) (func(), error) {
	merged := config.LoggerConfig{
		Level:  firstNonEmpty(cliLogger.Level, cfg.Logger.Level),
		File:   firstNonEmpty(cliLogger.File, cfg.Logger.File),
		Format: firstNonEmpty(cliLogger.Format, cfg.Logger.Format),
	}
	if merged == cliLogger {
		return nil, nil
	}
	return initLogger(merged)
}

func initLogger(cfg config.LoggerConfig) (func(), error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var output io.Writer = os.Stderr
	var cleanup func()
	if cfg.File != "" {
		file, closeFn, err := logger.OpenLogFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = closeFn
	}

	logger.Init(logger.ParseLevel(cfg.Level), output, cfg.Format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
