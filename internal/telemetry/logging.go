package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shaiso/Postflow/internal/domain"
)

// ParseLevel разбирает уровень логирования: DEBUG, INFO, WARN (WARNING), ERROR.
// Регистр не важен, неизвестное значение — INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер сервиса.
//
// LOG_LEVEL задаёт уровень, LOG_FORMAT — формат:
//   - "json" (по умолчанию) — для production
//   - "text" — для локальной разработки
//
// Каждая запись получает атрибут service.
func SetupLogger(service string) *slog.Logger {
	logger := NewLogger(os.Stdout, os.Getenv("LOG_FORMAT"), ParseLevel(os.Getenv("LOG_LEVEL"))).
		With("service", service)
	slog.SetDefault(logger)
	return logger
}

// NewLogger создаёт логгер без побочных эффектов.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// WithJob возвращает логгер с job_id и record_id.
func WithJob(logger *slog.Logger, id domain.JobID) *slog.Logger {
	return logger.With("job_id", id.String(), "record_id", id.RecordID.String())
}
