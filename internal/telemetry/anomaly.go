package telemetry

import "math"

// detectAnomalies computes the inline per-step anomaly flags stored in the
// record itself, so any later reader has them without recomputation.
// nan_inf_detected is true iff train_loss is present and is either non-numeric
// or a NaN/infinite number; an absent train_loss is not an anomaly.
func detectAnomalies(metrics map[string]any) map[string]any {
	flags := map[string]any{"nan_inf_detected": false}

	loss, ok := metrics["train_loss"]
	if !ok || loss == nil {
		return flags
	}

	f, numeric := asFloat(loss)
	if !numeric {
		flags["nan_inf_detected"] = true
		return flags
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		flags["nan_inf_detected"] = true
	}
	return flags
}
