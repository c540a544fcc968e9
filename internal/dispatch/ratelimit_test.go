package dispatch

import "testing"

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2)

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("first two requests should be allowed")
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("third request in the window should be rejected")
	}
	// Other clients track their own windows.
	if !rl.allow("5.6.7.8") {
		t.Fatal("separate client should be allowed")
	}
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1:8080":    "10.0.0.1",
		"[::1]:9000":       "::1",
		"no-port-here":     "no-port-here",
		"203.0.113.5:1234": "203.0.113.5",
	}
	for in, want := range cases {
		if got := clientIP(in); got != want {
			t.Errorf("clientIP(%q) = %q, want %q", in, got, want)
		}
	}
}
