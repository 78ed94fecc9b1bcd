package config

import (
	"testing"
)

// Test structs for validating custom validators
type HostTestStruct struct {
	Host string `validate:"host"`
}

func TestValidateHost(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected bool
	}{
		{"empty host (optional)", "", true},
		{"localhost", "localhost", true},
		{"IP address", "127.0.0.1", true},
		{"IP with port", "127.0.0.1:8080", true},
		{"hostname", "example.com", true},
		{"hostname with subdomain", "api.example.com", true},
		{"hostname with multiple subdomains", "api.v1.example.com", true},
		{"IPv6 localhost", "::1", true},
		{"IPv6 address", "2001:db8::1", true},
		{"host with underscore", "my_server", true},
		{"invalid host with space", "invalid host", false},
		{"invalid host with tab", "invalid\thost", false},
		{"invalid host with newline", "invalid\nhost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := HostTestStruct{Host: tt.host}
			err := validate.Struct(s)
			if tt.expected && err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
			if !tt.expected && err == nil {
				t.Errorf("expected invalid for host %q, got valid", tt.host)
			}
		})
	}
}

func TestIsValidHostChar(t *testing.T) {
	tests := []struct {
		char     rune
		expected bool
	}{
		{'a', true},
		{'Z', true},
		{'0', true},
		{'9', true},
		{'-', true},
		{'.', true},
		{':', true},
		{'_', true},
		{' ', false},
		{'!', false},
		{'@', false},
		{'#', false},
		{'$', false},
		{'%', false},
	}

	for _, tt := range tests {
		t.Run(string(tt.char), func(t *testing.T) {
			result := isValidHostChar(tt.char)
			if result != tt.expected {
				t.Errorf("isValidHostChar(%q) = %v, want %v", tt.char, result, tt.expected)
			}
		})
	}
}
