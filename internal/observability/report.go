package observability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/table"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MetricsReport renders the dreamorm series held by gatherer as a table.
// Histograms show their sample count and sum.
func MetricsReport(gatherer prometheus.Gatherer) (string, error) {
	families, err := gatherer.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	w := table.NewWriter()
	w.AppendHeader(table.Row{"Metric", "Labels", "Value"})
	rows := 0
	for _, family := range families {
		name := family.GetName()
		if !strings.HasPrefix(name, "dreamorm_") {
			continue
		}
		for _, m := range family.GetMetric() {
			w.AppendRow(table.Row{name, formatLabels(m.GetLabel()), formatValue(family.GetType(), m)})
			rows++
		}
	}
	if rows == 0 {
		return "no dreamorm metrics recorded\n", nil
	}
	return w.Render() + "\n", nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if strings.HasPrefix(p.GetName(), "otel_") {
			continue
		}
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func formatValue(kind dto.MetricType, m *dto.Metric) string {
	switch kind {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%g", h.GetSampleCount(), h.GetSampleSum())
	default:
		return "-"
	}
}
