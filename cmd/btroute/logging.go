package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// logLevels maps the accepted --log-level values. logrus.ParseLevel accepts
// more spellings than we want to document, so the set is explicit.
var logLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// configureLogger builds the logger for a command run. --log-level wins over
// the command's verbose flag; with neither set the logger stays silent so
// replay output is just the report.
func configureLogger(cmd *cobra.Command, verboseFlagName string) (*logrus.Logger, error) {
	level := logrus.PanicLevel

	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		l, ok := logLevels[s]
		if !ok {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
		}
		level = l
	} else if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		level = logrus.DebugLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
