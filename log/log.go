// Package log initializes the global logger from configuration.
package log

import (
	"github.com/machinekit/machinetalk-go/config"

	log "github.com/sirupsen/logrus"
	"github.com/yukitsune/lokirus"
)

const timestampFormat = "2006-01-02 15:04:05"

// Initialize applies the log configuration to the standard logger:
// level, formatter, and an optional Loki shipping hook. An invalid
// level leaves the current level unchanged.
func Initialize(logConfig config.LogConfig) {
	if level, err := log.ParseLevel(logConfig.Level); err == nil {
		log.SetLevel(level)
	}

	switch logConfig.Formatter {
	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	default:
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	if logConfig.Loki.Address != "" {
		opts := lokirus.NewLokiHookOptions().
			WithStaticLabels(lokirus.Labels(logConfig.Loki.Labels))
		hook := lokirus.NewLokiHookWithOpts(
			logConfig.Loki.Address,
			opts,
			log.InfoLevel,
			log.WarnLevel,
			log.ErrorLevel,
			log.FatalLevel,
		)
		log.AddHook(hook)
	}
}
