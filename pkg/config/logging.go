package config

import (
	"io"

	"github.com/loykin/sessprobe/internal/common"
)

// NewLogger builds the logger described by the logging section, writing to stderr
func (c LoggingConfig) NewLogger() (*common.Logger, error) {
	return c.newLogger(nil)
}

func (c LoggingConfig) newLogger(w io.Writer) (*common.Logger, error) {
	level, err := common.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := common.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	if c.Color != nil && format != common.FormatJSON {
		if *c.Color {
			format = common.FormatColor
		} else {
			format = common.FormatText
		}
	}
	return common.New(common.Options{Level: level, Format: format, Output: w}), nil
}

// SetupLogging installs the configured logger and masking as the process defaults
func (c LoggingConfig) SetupLogging() error {
	logger, err := c.NewLogger()
	if err != nil {
		return err
	}

	maskingEnabled := true
	if c.MaskSensitive != nil {
		maskingEnabled = *c.MaskSensitive
	}
	common.EnableMasking(maskingEnabled)
	common.SetDefaultLogger(logger)

	logger.Debug("logging configured", "level", logger.Level().String(), "mask_sensitive", maskingEnabled)
	return nil
}
