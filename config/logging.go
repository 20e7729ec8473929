package config

import (
	"io"

	"github.com/sirupsen/logrus"
)

// ApplyLogging configures the standard logrus logger from cfg.
func ApplyLogging(cfg LogConfig, out io.Writer) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if out != nil {
		logrus.SetOutput(out)
	}
	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
