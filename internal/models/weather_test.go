package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestReading_RefreshedAtOmittedWhenZero(t *testing.T) {
	tests := []struct {
		name    string
		reading Reading
		want    bool
	}{
		{"fallback", Reading{Temperature: 10, Condition: ConditionClear, Location: "Paris"}, false},
		{"generated", Reading{Temperature: 12, Condition: ConditionCloudy, Location: "Lyon",
			RefreshedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.reading)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if got := strings.Contains(string(b), `"refreshedAt"`); got != tt.want {
				t.Errorf("refreshedAt present = %v, want %v in %s", got, tt.want, b)
			}
		})
	}
}
