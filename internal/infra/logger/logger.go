package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"partner_sync/internal/infra/config"
)

// New builds the application logger: JSON in production and staging, coloured text
// otherwise.
func New(cfg *config.AppConfig) *logrus.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *config.AppConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info'. Error: %v", cfg.LogLevel, err)
		log.SetLevel(logrus.InfoLevel)
	} else {
		log.SetLevel(level)
	}

	switch strings.ToLower(cfg.Environment) {
	case "production", "staging":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00", // ISO8601
		})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		})
	}

	log.Debugf("Log level set to: %s", log.GetLevel().String())
	log.Debugf("Log format set for environment: %s", cfg.Environment)
	return log
}
