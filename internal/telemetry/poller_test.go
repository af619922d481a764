package telemetry

import (
	"context"
	"testing"
	"time"

	cachemem "github.com/dropDatabas3/tunneljohn/internal/cache/memory"
	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/lifecycle"
	"github.com/dropDatabas3/tunneljohn/internal/provision"
	"github.com/dropDatabas3/tunneljohn/internal/store/adapters/memory"
)

type staticSource struct{ clients []provision.ConnectedClient }

func (s *staticSource) ConnectedClients(context.Context) ([]provision.ConnectedClient, error) {
	return s.clients, nil
}

func TestPollerUpdatesTelemetryAndLogsDisconnects(t *testing.T) {
	st := memory.New()
	fake := provision.NewFake()
	ctx := context.Background()

	orch := lifecycle.New(st.Accounts(), fake, nil, lifecycle.Config{BcryptCost: 4})
	acc, err := orch.Create(ctx, lifecycle.CreateParams{Name: "alice", Secret: "Sup3rSecret"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	connectedSince := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	src := &staticSource{clients: []provision.ConnectedClient{
		{
			CommonName:     "alice",
			RealAddress:    "203.0.113.9:52811",
			BytesReceived:  1234,
			BytesSent:      5678,
			ConnectedSince: connectedSince,
		},
		// Un common name sin cuenta no debe romper la pasada.
		{CommonName: "ghost", RealAddress: "198.51.100.4:40022"},
	}}
	c := cachemem.New(time.Minute)
	p := New(st.Accounts(), st.ConnectionLogs(), src, c, time.Minute)

	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	got, err := st.Accounts().FindByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.LastSeenAt == nil {
		t.Fatal("last_seen_at should be set")
	}
	if got.ConnectedAt == nil || !got.ConnectedAt.Equal(connectedSince) {
		t.Fatalf("connected_at: %v", got.ConnectedAt)
	}
	if got.BytesIn != 1234 || got.BytesOut != 5678 {
		t.Fatalf("bytes: %d/%d", got.BytesIn, got.BytesOut)
	}
	if _, ok := c.Get(StatusCacheKey); !ok {
		t.Fatal("snapshot should be cached")
	}

	// La cuenta desaparece del status: desconexión observada.
	src.clients = nil
	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("second PollOnce: %v", err)
	}

	got, err = st.Accounts().FindByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.ConnectedAt != nil {
		t.Fatal("connected_at should be cleared after disconnect")
	}
	logs, err := st.ConnectionLogs().ListByAccount(ctx, acc.ID, 10)
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 connection log, got %d", len(logs))
	}
	entry := logs[0]
	if !entry.ConnectedAt.Equal(connectedSince) || entry.DisconnectedAt == nil {
		t.Fatalf("log entry: %+v", entry)
	}
	if entry.BytesIn != 1234 || entry.ClientAddr != "203.0.113.9:52811" {
		t.Fatalf("log entry fields: %+v", entry)
	}

	// Una tercera pasada vacía no duplica la desconexión.
	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("third PollOnce: %v", err)
	}
	logs, _ = st.ConnectionLogs().ListByAccount(ctx, acc.ID, 10)
	if len(logs) != 1 {
		t.Fatalf("disconnect should be logged once, got %d", len(logs))
	}
}

func TestPollerSurvivesVersionConflicts(t *testing.T) {
	st := memory.New()
	fake := provision.NewFake()
	ctx := context.Background()

	orch := lifecycle.New(st.Accounts(), fake, nil, lifecycle.Config{BcryptCost: 4})
	acc, err := orch.Create(ctx, lifecycle.CreateParams{Name: "bob", Secret: "Sup3rSecret"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	src := &staticSource{clients: []provision.ConnectedClient{{
		CommonName:     "bob",
		ConnectedSince: time.Now().UTC(),
	}}}
	p := New(st.Accounts(), st.ConnectionLogs(), src, nil, time.Minute)

	// Un update externo entre polls cambia la versión de la fila; la
	// telemetría debe aterrizar igual sin pisar el cambio externo.
	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	notes := "touched by admin"
	fresh, _ := st.Accounts().FindByID(ctx, acc.ID)
	if _, err := st.Accounts().Update(ctx, acc.ID,
		repository.AccountPatch{Notes: &notes}, fresh.Version); err != nil {
		t.Fatalf("external update: %v", err)
	}
	if err := p.PollOnce(ctx); err != nil {
		t.Fatalf("second PollOnce: %v", err)
	}

	got, _ := st.Accounts().FindByID(ctx, acc.ID)
	if got.Notes != "touched by admin" {
		t.Fatal("external change must survive")
	}
	if got.LastSeenAt == nil {
		t.Fatal("telemetry must still land")
	}
}
