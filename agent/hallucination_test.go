package agent

import "testing"

func TestHallucinationFilterDetect(t *testing.T) {
	f := NewHallucinationFilter(nil, nil)

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "", false},
		{"plain prose", "There are three instances running.", false},
		{"json without marker", `{"status": "ok"}`, false},
		{"fabricated payload", `{"instances": [{"id": "i-1"}]}`, true},
		{"indented payload", "\n  {\"Reservations\": [ ]}", true},
		{"reservations payload", `{"reservations": []}`, true},
		{"simulated dialogue", "Here you go:\n\"instances\": [1]\nUser: thanks", true},
		{"marker in prose without label", `I found "instances": [ in the docs.`, false},
		{"case insensitive", `{"INSTANCES": [ ]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Detect(tt.content); got != tt.want {
				t.Errorf("Detect(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestHallucinationFilterCustomMarkers(t *testing.T) {
	f := NewHallucinationFilter([]string{`"Buckets": [`}, nil)

	if !f.Detect(`{"buckets": [{"name": "logs"}]}`) {
		t.Error("expected custom marker to match")
	}
	if f.Detect(`{"instances": [{"id": "i-1"}]}`) {
		t.Error("custom markers replace the defaults")
	}
}

func TestHallucinationFilterFilter(t *testing.T) {
	f := NewHallucinationFilter(nil, nil)

	if got := f.Filter(`{"instances": []}`); got != "" {
		t.Errorf("expected cleared content, got %q", got)
	}
	if got := f.Filter("All good."); got != "All good." {
		t.Errorf("expected content unchanged, got %q", got)
	}
}
