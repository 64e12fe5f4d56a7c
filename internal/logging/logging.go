// Package logging builds the process-wide structured logger: a
// development encoder in debug mode, a production (JSON) encoder
// otherwise, sugared for the keysAndValues call style used throughout.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a *zap.SugaredLogger switched on debug.
func New(debug bool) (*zap.SugaredLogger, error) {
	var zlog *zap.Logger
	var err error
	if debug {
		zlog, err = zap.NewDevelopment()
	} else {
		zlog, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return zlog.Sugar(), nil
}
