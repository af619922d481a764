package openvpn

import "testing"

const sampleStatus = `OpenVPN CLIENT LIST
Updated,Mon Jul 14 10:05:00 2025
Common Name,Real Address,Bytes Received,Bytes Sent,Connected Since
alice_01,203.0.113.9:52811,3456,7890,Mon Jul 14 10:01:22 2025
bob,198.51.100.4:40022,120,88,Mon Jul 14 09:55:10 2025
ROUTING TABLE
Virtual Address,Common Name,Real Address,Last Ref
10.8.0.2,alice_01,203.0.113.9:52811,Mon Jul 14 10:04:59 2025
GLOBAL STATS
Max bcast/mcast queue length,0
END
`

func TestParseStatusLog(t *testing.T) {
	clients := ParseStatusLog(sampleStatus)
	if len(clients) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(clients))
	}
	a := clients[0]
	if a.CommonName != "alice_01" {
		t.Fatalf("common name: %q", a.CommonName)
	}
	if a.RealAddress != "203.0.113.9:52811" {
		t.Fatalf("real address: %q", a.RealAddress)
	}
	if a.BytesReceived != 3456 || a.BytesSent != 7890 {
		t.Fatalf("bytes: %d/%d", a.BytesReceived, a.BytesSent)
	}
	if a.ConnectedSince.IsZero() {
		t.Fatal("connected since should parse")
	}
	// La ROUTING TABLE no debe colarse como cliente.
	if clients[1].CommonName != "bob" {
		t.Fatalf("second client: %q", clients[1].CommonName)
	}
}

func TestParseStatusLogEmpty(t *testing.T) {
	if got := ParseStatusLog(""); len(got) != 0 {
		t.Fatalf("expected no clients, got %d", len(got))
	}
	if got := ParseStatusLog("garbage\nwithout header\n"); len(got) != 0 {
		t.Fatalf("expected no clients, got %d", len(got))
	}
}
