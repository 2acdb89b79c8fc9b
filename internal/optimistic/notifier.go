package optimistic

import (
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// Notifier показывает пользователю итог операции (toast)
type Notifier interface {
	Success(operationID string, result *models.BatchResult)
	Conflict(operationID string, conflicts []models.ConflictRecord)
	Error(operationID string, reason string)
}

// LogNotifier пишет уведомления в лог; используется без UI
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создает уведомитель поверх zap
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Success(operationID string, result *models.BatchResult) {
	fields := []zap.Field{zap.String("operation_id", operationID)}
	if result != nil && result.Success != nil {
		fields = append(fields,
			zap.Int("ingredients", len(result.Success.SavedIngredients)),
			zap.Int("recipes", len(result.Success.SavedRecipes)))
	}
	n.logger.Info("Changes saved", fields...)
}

func (n *LogNotifier) Conflict(operationID string, conflicts []models.ConflictRecord) {
	names := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		names = append(names, c.EntityName)
	}
	n.logger.Warn("Changes conflict with newer server data",
		zap.String("operation_id", operationID),
		zap.Strings("entities", names))
}

func (n *LogNotifier) Error(operationID string, reason string) {
	n.logger.Error("Failed to save changes",
		zap.String("operation_id", operationID),
		zap.String("reason", reason))
}
