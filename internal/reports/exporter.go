// Package reports archives aggregation summaries to blob storage for audit
// and downstream consumption.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"carboncore/internal/blob"
	"carboncore/internal/core"

	"github.com/google/uuid"
)

// Export describes one archived aggregation run.
type Export struct {
	RunID      string    `json:"run_id"`
	SummaryKey string    `json:"summary_key"`
	CSVKey     string    `json:"csv_key"`
	ExportedAt time.Time `json:"exported_at"`
}

// Exporter writes aggregation summaries to a blob store as a JSON document
// plus a per-node CSV breakdown.
type Exporter struct {
	store blob.Store
	nowFn func() time.Time
}

// NewExporter constructs an exporter over the given blob store.
func NewExporter(store blob.Store) *Exporter {
	return &Exporter{
		store: store,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// ExportSummary archives the summary under a fresh run id. Failure summaries
// are rejected; archiving a zeroed report would only mislead consumers.
func (e *Exporter) ExportSummary(ctx context.Context, summary core.AggregateSummary) (Export, error) {
	if summary.HasErrors {
		return Export{}, fmt.Errorf("refusing to archive failed aggregation: %s", summary.ErrorMessage)
	}
	now := e.nowFn()
	runID := uuid.NewString()
	prefix := fmt.Sprintf("reports/%s/%s", now.Format("2006-01-02"), runID)

	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return Export{}, fmt.Errorf("encode summary: %w", err)
	}
	summaryKey := prefix + "/summary.json"
	if _, err := e.store.Put(ctx, summaryKey, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"run_id": runID},
	}); err != nil {
		return Export{}, fmt.Errorf("put summary: %w", err)
	}

	csvKey := prefix + "/node_totals.csv"
	csvData, err := nodeTotalsCSV(summary)
	if err != nil {
		return Export{}, err
	}
	if _, err := e.store.Put(ctx, csvKey, bytes.NewReader(csvData), blob.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"run_id": runID},
	}); err != nil {
		return Export{}, fmt.Errorf("put node totals: %w", err)
	}

	return Export{RunID: runID, SummaryKey: summaryKey, CSVKey: csvKey, ExportedAt: now}, nil
}

// ListExports returns archived summary keys under the reports prefix.
func (e *Exporter) ListExports(ctx context.Context) ([]blob.Info, error) {
	return e.store.List(ctx, "reports/")
}

// PresignSummary returns a time-limited URL for a previously archived summary.
func (e *Exporter) PresignSummary(ctx context.Context, summaryKey string, expiry time.Duration) (string, error) {
	return e.store.PresignURL(ctx, summaryKey, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
}

func nodeTotalsCSV(summary core.AggregateSummary) ([]byte, error) {
	nodeIDs := make([]string, 0, len(summary.ByNode))
	for id := range summary.ByNode {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"node_id", "co2e", "co2", "ch4", "n2o", "uncertainty", "measurement_count"}); err != nil {
		return nil, err
	}
	for _, id := range nodeIDs {
		totals := summary.ByNode[id]
		record := []string{
			id,
			formatFloat(totals.CO2e),
			formatFloat(totals.CO2),
			formatFloat(totals.CH4),
			formatFloat(totals.N2O),
			formatFloat(totals.Uncertainty),
			strconv.Itoa(totals.MeasurementCount),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
