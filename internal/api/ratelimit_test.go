package api

import "testing"

func TestClientLimiterIsolatesClients(t *testing.T) {
	l := newClientLimiter(0.0001, 1)

	if !l.Allow("a") {
		t.Fatal("first request for client a denied")
	}
	if l.Allow("a") {
		t.Fatal("second request for client a allowed past burst")
	}
	if !l.Allow("b") {
		t.Fatal("client b throttled by client a's bucket")
	}
}

func TestClientLimiterBoundsClientTable(t *testing.T) {
	l := newClientLimiter(1, 1)
	l.maxClients = 2

	l.Allow("a")
	l.Allow("b")
	l.Allow("c")
	if len(l.clients) > 2 {
		t.Fatalf("client table grew to %d, want <= 2", len(l.clients))
	}
}
