package openvpn

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/tunneljohn/internal/provision"
)

// statusTimeLayout es el formato de "Connected Since" del status log v1.
const statusTimeLayout = "Mon Jan 2 15:04:05 2006"

// ConnectedClients lee y parsea el status log del servidor.
// Un status log ausente se reporta como cero clientes, no como error:
// en un servidor recién instalado el archivo no existe todavía.
func (m *Manager) ConnectedClients(_ context.Context) ([]provision.ConnectedClient, error) {
	b, err := os.ReadFile(m.cfg.StatusLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseStatusLog(string(b)), nil
}

// ParseStatusLog extrae la sección CLIENT LIST de un status log de OpenVPN.
//
// Formato esperado (status-version 1):
//
//	Common Name,Real Address,Bytes Received,Bytes Sent,Connected Since
//	alice,203.0.113.9:52811,3456,7890,Mon Jul 14 10:01:22 2025
//	ROUTING TABLE
//	...
func ParseStatusLog(raw string) []provision.ConnectedClient {
	var clients []provision.ConnectedClient
	inClientSection := false

	for _, line := range strings.Split(raw, "\n") {
		if strings.Contains(line, "Common Name,Real Address,Bytes Received,Bytes Sent,Connected Since") {
			inClientSection = true
			continue
		}
		if inClientSection && strings.Contains(line, "ROUTING TABLE") {
			break
		}
		if !inClientSection || strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 5 {
			continue
		}
		rx, _ := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		tx, _ := strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
		since, _ := time.Parse(statusTimeLayout, strings.TrimSpace(parts[4]))
		clients = append(clients, provision.ConnectedClient{
			CommonName:     strings.TrimSpace(parts[0]),
			RealAddress:    strings.TrimSpace(parts[1]),
			BytesReceived:  rx,
			BytesSent:      tx,
			ConnectedSince: since,
		})
	}
	return clients
}
