package helpers

import "testing"

func TestNormalizeServerURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"full url", "https://rewind.example.com", "https://rewind.example.com", false},
		{"trailing slash", "https://rewind.example.com/", "https://rewind.example.com", false},
		{"scheme defaults to https", "rewind.example.com", "https://rewind.example.com", false},
		{"localhost defaults to http", "localhost:8642", "http://localhost:8642", false},
		{"loopback ip defaults to http", "127.0.0.1:8642", "http://127.0.0.1:8642", false},
		{"uppercase host", "https://Rewind.Example.com", "https://rewind.example.com", false},
		{"query stripped", "https://rewind.example.com?a=b", "https://rewind.example.com", false},
		{"surrounding whitespace", "  https://rewind.example.com  ", "https://rewind.example.com", false},
		{"empty", "", "", true},
		{"bad scheme", "ftp://rewind.example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeServerURL(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeServerURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeServerURL() = %v, want %v", got, tt.want)
			}
		})
	}
}
