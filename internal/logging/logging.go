// Package logging builds the process-wide zap logger the coordinator and
// its control surface share.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config configures the logging subsystem.
type Config struct {
	// Level is the minimum level emitted.
	Level zapcore.Level `yaml:"level"`
	// Component, when set, is attached to every log line so a dump of
	// several coordinator instances' logs (one per uplink) can be
	// filtered back apart.
	Component string `yaml:"component"`
}

// Init builds a console-encoded zap logger writing to stderr, coloring
// level names when stderr is attached to a terminal. It returns the
// logger's AtomicLevel alongside the logger itself so callers can adjust
// verbosity at runtime without rebuilding the logger.
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()

	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sugar := logger.Sugar()
	if cfg.Component != "" {
		sugar = sugar.With("component", cfg.Component)
	}

	return sugar, config.Level, nil
}
