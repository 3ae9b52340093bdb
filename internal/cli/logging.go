package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log formats accepted by --log-format.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// defaultLogLevel keeps diagnostics quiet next to the progress lines.
const defaultLogLevel = "warn"

// newLogger builds the diagnostics logger. Progress lines are written
// separately; the logger carries structured run and chunk events.
func newLogger(w io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: --log-level %q", ErrInvalidFlag, level)
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", LogFormatText:
		log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	case LogFormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("%w: --log-format %q (use text or json)", ErrInvalidFlag, format)
	}
	return log, nil
}
