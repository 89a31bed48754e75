package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"CALL", Call, true},
		{"call", Call, true},
		{" PUT_EUROPEAN", Put, true},
		{"put", Put, true},
		{"STOCK", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseKind(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseKind(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		v      float64
		places int32
		want   float64
	}{
		{29.985, 2, 29.99},
		{1.23456, 4, 1.2346},
		{-0.49995, 4, -0.5},
		{2.0, 2, 2.0},
	}
	for _, tt := range tests {
		if got := Round(tt.v, tt.places); got != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.v, tt.places, got, tt.want)
		}
	}
	if got := RoundString(30, 2); got != "30.00" {
		t.Errorf("RoundString(30, 2) = %q, want 30.00", got)
	}
}

func TestParseDateTruncatesTimestamp(t *testing.T) {
	got, err := ParseDate("2026-11-20T00:00:00Z")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	want := time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseDate = %v, want %v", got, want)
	}
	if _, err := ParseDate("20/11/2026"); err == nil {
		t.Errorf("Expected error for non ISO date")
	}
}

func TestEmptyResultEncodesArrays(t *testing.T) {
	data, err := json.Marshal(Empty())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"pairs":[]`) || !strings.Contains(string(data), `"expiries":[]`) {
		t.Errorf("Expected empty arrays, got %s", data)
	}
}

func TestSizeDefaults(t *testing.T) {
	if (OptionQuote{}).Size() != DefaultContractSize {
		t.Errorf("Expected default contract size")
	}
	if (OptionQuote{ContractSize: 10}).Size() != 10 {
		t.Errorf("Expected explicit contract size")
	}
}
