package report

import "github.com/vietddude/aegis/internal/classify"

func parseKind(s string) classify.Kind {
	switch classify.Kind(s) {
	case classify.KindNetwork, classify.KindValidation, classify.KindAuth,
		classify.KindProcessing, classify.KindSystem, classify.KindBusiness:
		return classify.Kind(s)
	default:
		return classify.KindSystem
	}
}

func parseSeverity(s string) classify.Severity {
	switch s {
	case "low":
		return classify.SeverityLow
	case "medium":
		return classify.SeverityMedium
	case "high":
		return classify.SeverityHigh
	case "critical":
		return classify.SeverityCritical
	default:
		return classify.SeverityMedium
	}
}
