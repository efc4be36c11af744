// Package commands implements the scribe_companion CLI.
package commands

import (
	"github.com/sirupsen/logrus"

	"github.com/scribeverse/scribe-companion/internal/config"
)

// AppVersion is set by main from the build-time version.
var AppVersion = "0.0.0-dev"

// newLogger builds the process logger from config, with the verbose flag
// forcing debug level.
func newLogger(cfg *config.Config, verbose bool) *logrus.Logger {
	log := logrus.New()

	if cfg.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	return log
}
