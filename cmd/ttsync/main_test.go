package main

import "testing"

func TestDeriveSocketURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://127.0.0.1:9091", "ws://127.0.0.1:9091/ws"},
		{"https://seedbox.example.com", "wss://seedbox.example.com/ws"},
		{"http://host:9091/transmission/rpc", "ws://host:9091/ws"},
		{"http://host:9091/?session=1", "ws://host:9091/ws"},
		{"ftp://host", ""},
		{"not a url at all ://", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := deriveSocketURL(tc.in); got != tc.want {
			t.Errorf("deriveSocketURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
