// Package oplog turns wager.OperationLog callbacks into log lines and metrics.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger writes one structured line per operation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger returns a ZapLogger; a nil logger discards output.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry wager.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.UserID.IsZero() {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if entry.ResolutionID != "" {
		fields = append(fields, zap.String("resolution_id", entry.ResolutionID))
	}
	if entry.Stake != 0 {
		fields = append(fields, zap.Int64("stake", entry.Stake.Int64()))
	}
	if entry.Error == nil && entry.ResolutionID != "" {
		fields = append(fields,
			zap.Bool("win", entry.Outcome.Win),
			zap.Int64("payout", entry.Outcome.Amount.Int64()),
			zap.Int64("balance", entry.Balance.Int64()),
		)
	}
	level := zapcore.InfoLevel
	if entry.Error != nil {
		fields = append(fields, zap.String("error_kind", entry.Kind.String()), zap.Error(entry.Error))
		level = levelForKind(entry.Kind)
	}
	if checked := zapLogger.logger.Check(level, "wager operation"); checked != nil {
		checked.Write(fields...)
	}
}

func levelForKind(kind wager.ErrorKind) zapcore.Level {
	switch kind {
	case wager.ErrorKindPersistence:
		return zapcore.ErrorLevel
	case wager.ErrorKindConcurrency:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Fanout forwards every entry to each logger in order.
type Fanout []wager.OperationLogger

func (fanout Fanout) LogOperation(ctx context.Context, entry wager.OperationLog) {
	for _, logger := range fanout {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
