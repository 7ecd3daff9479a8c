// Package logging builds the structured logger shared by every command
package logging

import (
	"io"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Levels lists the accepted level names from most to least verbose
var Levels = []string{"debug", "info", "warn", "error"}

// New returns a logfmt logger on w that drops records below lvl
func New(w io.Writer, lvl string) (log.Logger, error) {
	allow, err := allowed(lvl)
	if err != nil {
		return nil, err
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return level.NewFilter(logger, allow), nil
}

// ValidLevel reports whether lvl names a known level
func ValidLevel(lvl string) error {
	_, err := allowed(lvl)
	return err
}

func allowed(lvl string) (level.Option, error) {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug(), nil
	case "info", "":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	}
	return nil, errors.Errorf("invalid log level %q, expected one of %s", lvl, strings.Join(Levels, ", "))
}
