// README: zap logger construction.
package infra

import "go.uber.org/zap"

// NewLogger returns a production logger unless env is "development" or "dev".
func NewLogger(env string) (*zap.Logger, error) {
	if env == "development" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
