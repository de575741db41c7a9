// Package features turns linker results into scoring inputs.
package features

import "github.com/starford/fraudlink/internal/models"

// Feature names produced by Graph, in output order.
const (
	ConnectedTransactionCount = "connected_transaction_count"
	DirectConnectionCount     = "direct_connection_count"
	ConnectedMaxConfidence    = "connected_max_confidence"
	ConnectedMaxDepth         = "connected_max_depth"
	DirectDistinctMatchers    = "direct_distinct_matchers"
	DirectMaxImportance       = "direct_max_importance"
)

// Graph summarizes transitive and direct connections. Nil inputs count as empty.
func Graph(connected []models.ConnectedTransaction, direct []models.DirectConnection) []models.Feature {
	var maxConf, maxDepth, maxImportance int
	for _, c := range connected {
		maxConf = max(maxConf, c.Confidence)
		maxDepth = max(maxDepth, c.Depth)
	}
	matchers := make(map[string]struct{}, len(direct))
	for _, d := range direct {
		matchers[d.Matcher] = struct{}{}
		maxImportance = max(maxImportance, d.Importance)
	}

	return []models.Feature{
		{Name: ConnectedTransactionCount, Value: float64(len(connected))},
		{Name: DirectConnectionCount, Value: float64(len(direct))},
		{Name: ConnectedMaxConfidence, Value: float64(maxConf)},
		{Name: ConnectedMaxDepth, Value: float64(maxDepth)},
		{Name: DirectDistinctMatchers, Value: float64(len(matchers))},
		{Name: DirectMaxImportance, Value: float64(maxImportance)},
	}
}

// Map indexes features by name.
func Map(fs []models.Feature) map[string]float64 {
	out := make(map[string]float64, len(fs))
	for _, f := range fs {
		out[f.Name] = f.Value
	}
	return out
}
