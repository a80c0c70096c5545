package dispatch

import (
	"math"
	"time"
)

// TelemetryRecord summarizes usage and cost for one successful call. It is
// write-once; the dispatch layer logs it and returns it to the caller for
// display. No external sink is attached yet.
type TelemetryRecord struct {
	Timestamp    time.Time
	UserID       string
	CommandName  string
	ModelUsed    string
	ProviderName string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	TotalCost    float64
	Currency     string
}

// CostTable resolves per-million-token input/output prices for a
// (provider, model) pair.
type CostTable interface {
	Cost(providerName, modelID string) (inputPerMillion, outputPerMillion float64, ok bool)
}

// zeroCostTable is the default when no pricing catalog is wired; every lookup
// misses, which records zero cost with a warning.
type zeroCostTable struct{}

func (zeroCostTable) Cost(string, string) (float64, float64, bool) {
	return 0, 0, false
}

// CalculateCost computes the dollar cost for the given token counts and
// per-million-token prices, rounded to 6 decimal places.
func CalculateCost(inputTokens, outputTokens int, inputCost, outputCost float64) float64 {
	cost := float64(inputTokens)/1e6*inputCost + float64(outputTokens)/1e6*outputCost
	return math.Round(cost*1e6) / 1e6
}

// recordUsage builds a telemetry record for a successful call. It never fails
// the caller: any internal error (including a panicking cost table) is logged
// and yields nil, so telemetry stays strictly optional.
func (s *Service) recordUsage(userID, commandName, providerName, modelID string, inputTokens, outputTokens int, outputType string) (record *TelemetryRecord) {
	log := s.log.WithComponent("telemetry")

	defer func() {
		if r := recover(); r != nil {
			log.Error("telemetry recording failed", "panic", r, "provider", providerName, "model", modelID)
			record = nil
		}
	}()

	inputCost, outputCost, ok := s.costs.Cost(providerName, modelID)
	if !ok {
		log.Warn("no cost data for model, recording zero cost", "provider", providerName, "model", modelID)
		inputCost, outputCost = 0, 0
	}

	record = &TelemetryRecord{
		Timestamp:    time.Now(),
		UserID:       userID,
		CommandName:  commandName,
		ModelUsed:    modelID,
		ProviderName: providerName,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		TotalCost:    CalculateCost(inputTokens, outputTokens, inputCost, outputCost),
		Currency:     "USD",
	}

	log.Info("usage recorded",
		"command", commandName,
		"provider", providerName,
		"model", modelID,
		"inputTokens", inputTokens,
		"outputTokens", outputTokens,
		"cost", record.TotalCost,
		"output", outputType,
	)
	return record
}
