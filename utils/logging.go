package utils

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

// NewLogger builds the process logger at the named level.
func NewLogger(level string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(Output)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)
	return logger, nil
}

// NewRNG returns the seeded generator shared by initialisation, dropout,
// shuffling and sampling.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
