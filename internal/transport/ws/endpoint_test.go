package ws

import "testing"

func TestEndpointVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		base  string
		token string
		want  string
	}{
		{name: "https", base: "https://api.example.com", token: "tok", want: "wss://api.example.com/ws?token=tok"},
		{name: "http", base: "http://localhost:3000", token: "", want: "ws://localhost:3000/ws"},
		{name: "trailing slash", base: "https://api.example.com/", token: "", want: "wss://api.example.com/ws"},
		{name: "existing path", base: "https://api.example.com/v2", token: "", want: "wss://api.example.com/v2/ws"},
		{name: "already wss", base: "wss://api.example.com", token: "", want: "wss://api.example.com/ws"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Endpoint(tt.base, tt.token)
			if err != nil {
				t.Fatalf("Endpoint(%q) error: %v", tt.base, err)
			}
			if got != tt.want {
				t.Fatalf("Endpoint(%q) = %q, want %q", tt.base, got, tt.want)
			}
		})
	}
}

func TestEndpointRejectsUnknownScheme(t *testing.T) {
	t.Parallel()
	if _, err := Endpoint("ftp://api.example.com", ""); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}
