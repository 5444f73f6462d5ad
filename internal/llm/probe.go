package llm

import (
	"context"

	pkgllm "github.com/HerbHall/litdigest/pkg/llm"
	"go.uber.org/zap"
)

// Probe checks connectivity by listing models. It never returns an error;
// failure detail is logged and reported as false.
func Probe(ctx context.Context, p pkgllm.Provider, logger *zap.Logger) bool {
	hr, ok := p.(pkgllm.HealthReporter)
	if !ok {
		logger.Debug("provider has no health reporter; assuming reachable")
		return true
	}

	models, err := hr.ListModels(ctx)
	if err != nil {
		logger.Warn("llm provider not reachable",
			zap.String("code", pkgllm.CodeOf(err)),
			zap.Error(err),
		)
		return false
	}

	logger.Info("llm provider connected",
		zap.Int("models", len(models)),
		zap.Strings("sample", head(models, 5)),
	)
	return true
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
