package core

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{-5, "0 B"},
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{BytesPerMB, "1.00 MB"},
		{3 * BytesPerGB / 2, "1.50 GB"},
		{BytesPerTB, "1.00 TB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.bytes); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestFormatMegabytes(t *testing.T) {
	if got := FormatMegabytes(412*BytesPerMB + 1000); got != "412 MB" {
		t.Errorf("FormatMegabytes() = %q", got)
	}
	if got := FormatMegabytes(-1); got != "0 MB" {
		t.Errorf("FormatMegabytes(-1) = %q", got)
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100", 100, false},
		{"100B", 100, false},
		{"1KB", 1024, false},
		{"1.5 MB", 3 * BytesPerMB / 2, false},
		{"2g", 2 * BytesPerGB, false},
		{"  512mb ", 512 * BytesPerMB, false},
		{"", 0, true},
		{"MB", 0, true},
		{"-1MB", 0, true},
		{"5 parsecs", 0, true},
		{"1.2.3KB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBytes(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBytes(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBytes(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
