package main

import "testing"

func TestParsePageRange(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		start   int
		end     int
		wantErr bool
	}{
		{"single page", "3", 3, 3, false},
		{"range", "1-5", 1, 5, false},
		{"range with spaces", " 2 - 4 ", 2, 4, false},
		{"single page range", "7-7", 7, 7, false},
		{"empty", "", 0, 0, true},
		{"reversed", "5-2", 0, 0, true},
		{"zero page", "0", 0, 0, true},
		{"garbage", "abc", 0, 0, true},
		{"half garbage", "1-x", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parsePageRange(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePageRange(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if err == nil && (start != tt.start || end != tt.end) {
				t.Errorf("parsePageRange(%q) = %d-%d, want %d-%d", tt.spec, start, end, tt.start, tt.end)
			}
		})
	}
}
