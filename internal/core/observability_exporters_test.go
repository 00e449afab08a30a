package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "carboncore_service_metrics_") {
		t.Fatalf("auto-generated name wrong: %q", rec.Name())
	}

	ctx := context.Background()
	rec.Observe(ctx, "create_node", true, 20*time.Millisecond)
	rec.Observe(ctx, "create_node", true, 30*time.Millisecond)
	rec.Observe(ctx, "create_node", false, 5*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	snap := rec.Snapshot()
	stats := snap.Operations["create_node"]
	if stats.DurationMSTotal != 55 {
		t.Fatalf("durations = %v, want 55", stats.DurationMSTotal)
	}
	if stats.Success != 2 || stats.Error != 1 {
		t.Fatalf("result counters wrong: %+v", stats)
	}
	if _, ok := snap.Operations[""]; ok {
		t.Fatal("empty operation must be ignored")
	}
}

func TestJSONTracerEmitsSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)

	_, span := tracer.Start(context.Background(), "aggregate")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "validate")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Operation != "aggregate" || entries[0].Status != "success" {
		t.Fatalf("first entry wrong: %+v", entries[0])
	}
	if entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Fatalf("second entry wrong: %+v", entries[1])
	}

	dec := json.NewDecoder(&buf)
	var line TraceRecord
	if err := dec.Decode(&line); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if line.Operation != "aggregate" {
		t.Fatalf("serialized line wrong: %+v", line)
	}
}

func TestJSONTracerWithoutWriter(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), "noop")
	span.End(nil)
	if len(tracer.Entries()) != 1 {
		t.Fatal("entries must be retained without a writer")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)

	ctx := context.Background()
	rec.Observe(ctx, "aggregate", true, 100*time.Millisecond)
	rec.Observe(ctx, "aggregate", false, 50*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	if got := testutil.ToFloat64(rec.results.WithLabelValues("aggregate", "success")); got != 1 {
		t.Fatalf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("aggregate", "error")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(rec.durations); got == 0 {
		t.Fatal("histogram not collected")
	}
}

func TestServiceWiresExporterImplementations(t *testing.T) {
	tracer := NewJSONTracer(nil)
	rec := NewExpvarMetricsRecorder("")
	svc := NewInMemoryService(DefaultRulesEngine(), WithMetricsRecorder(rec), WithTracer(tracer))

	if _, _, err := svc.CreateNode(context.Background(), node("", "Plant A")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if rec.Snapshot().Operations["create_node"].Success != 1 {
		t.Fatalf("metrics not recorded: %+v", rec.Snapshot().Operations)
	}
	entries := tracer.Entries()
	if len(entries) != 1 || entries[0].Operation != "create_node" {
		t.Fatalf("trace not recorded: %+v", entries)
	}
}
