// Package logging builds the root logrus logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger at level writing text or JSON.
func New(level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
	return log, nil
}
