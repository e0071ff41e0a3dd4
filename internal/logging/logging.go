// Package logging configures the process-wide go-log loggers and provides
// small helpers shared by the other packages.
package logging

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"
)

// Setup applies the configured level to every named logger.
func Setup(level string) error {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	logging.SetAllLoggers(lvl)
	return nil
}
