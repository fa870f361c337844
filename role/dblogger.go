package role

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
)

// GormLogger routes gorm's logger interface onto zerolog so query logs
// share the service's structured output.
type GormLogger struct {
	Log zerolog.Logger
}

func (g GormLogger) LogMode(logger.LogLevel) logger.Interface {
	return g
}

func (g GormLogger) Info(_ context.Context, format string, args ...interface{}) {
	g.Log.Info().Msgf(format, args...)
}

func (g GormLogger) Warn(_ context.Context, format string, args ...interface{}) {
	g.Log.Warn().Msgf(format, args...)
}

func (g GormLogger) Error(_ context.Context, format string, args ...interface{}) {
	g.Log.Error().Msgf(format, args...)
}

func (g GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, rows := fc()

	event := g.Log.Trace()
	if err != nil {
		event = g.Log.Error().Err(err)
	}

	event.Dur("elapsed", time.Since(begin)).
		Int64("rows", rows).
		Str("sql", sql).
		Msg("query")
}
