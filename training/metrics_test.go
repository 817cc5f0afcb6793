package training

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestHistorySink(t *testing.T) {
	sink := NewHistorySink()
	sink.Record(SeriesBatchLoss, 0.9, 0)
	sink.Record(SeriesBatchLoss, 0.7, 1)
	sink.Record(SeriesValLoss, 0.5, 0)

	points := sink.Series(SeriesBatchLoss)
	if len(points) != 2 {
		t.Fatalf("Expected 2 batch-loss points, got %d", len(points))
	}
	if points[0].Step != 0 || points[0].Value != 0.9 {
		t.Errorf("Unexpected first point: %+v", points[0])
	}
	if points[1].Step != 1 || points[1].Value != 0.7 {
		t.Errorf("Unexpected second point: %+v", points[1])
	}

	if got := sink.Series(SeriesValLoss); len(got) != 1 {
		t.Errorf("Expected 1 val-loss point, got %d", len(got))
	}
	if got := sink.Series("never/recorded"); got != nil {
		t.Errorf("Expected nil for unknown series, got %v", got)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	sink.Record(SeriesBatchLoss, 1.25, 0)
	sink.Record(SeriesLearningRate, 0.004, 0)
	sink.Record(SeriesBatchLoss, 1.10, 1)
	sink.Close()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open metrics file: %v", err)
	}
	defer file.Close()

	var records []fileRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("Line is not valid JSON: %v", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}

	if len(records) != 3 {
		t.Fatalf("Expected 3 records after Close, got %d", len(records))
	}
	if records[0].Series != SeriesBatchLoss || records[0].Value != 1.25 {
		t.Errorf("Unexpected first record: %+v", records[0])
	}
	if records[1].Series != SeriesLearningRate || records[1].Step != 0 {
		t.Errorf("Unexpected second record: %+v", records[1])
	}
	if records[2].Step != 1 {
		t.Errorf("Unexpected third record: %+v", records[2])
	}
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")

	for i := 0; i < 2; i++ {
		sink, err := NewFileSink(path)
		if err != nil {
			t.Fatalf("Failed to create sink: %v", err)
		}
		sink.Record(SeriesValLoss, float64(i), i)
		sink.Close()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	lines := 0
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("Expected 2 lines across reopened sinks, got %d", lines)
	}
}
