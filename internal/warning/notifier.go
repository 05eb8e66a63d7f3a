package warning

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
)

// LogNotifier writes warnings to the log. Used when no transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Dispatch(_ context.Context, w domain.WarningRecord) error {
	n.logger.Warn("HEAVY RAINFALL WARNING",
		"warning_id", w.ID,
		"cell_id", w.CellID,
		"category", w.Category,
		"horizon", w.Horizon.String(),
		"place", w.PlaceName,
		"message", w.Message,
	)
	return nil
}
