package openvpn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
	"github.com/dropDatabas3/tunneljohn/internal/provision"
	"github.com/dropDatabas3/tunneljohn/internal/util/atomicwrite"
)

// profileTemplate es el perfil de cliente. Placeholders en orden: nombre,
// fecha, server, port, proto, server, port, CA, tls-auth.
const profileTemplate = `# OpenVPN client profile for %s
# Generated: %s
# Server: %s:%d

client
dev tun
proto %s
remote %s %d
resolv-retry infinite
nobind
persist-key
persist-tun
remote-cert-tls server
verb 3
mute 20

auth-user-pass
auth SHA512
cipher AES-256-GCM
tls-version-min 1.2
key-direction 1

redirect-gateway def1
dhcp-option DNS 8.8.8.8
dhcp-option DNS 1.1.1.1
block-outside-dns

keepalive 10 120
auth-nocache
connect-retry 2
connect-retry-max 5

<ca>
%s
</ca>

<tls-auth>
%s
</tls-auth>
`

// GenerateProfile renderiza un artefacto .ovpn nuevo para la cuenta y lo
// escribe de forma atómica en ConfigDir. El nombre incluye un timestamp:
// los artefactos previos quedan hasta que alguien llame CleanupArtifacts.
func (m *Manager) GenerateProfile(ctx context.Context, name string) (string, error) {
	ca, err := os.ReadFile(m.cfg.CACertPath)
	if err != nil {
		return "", &provision.Error{Step: "profile", Name: name, Err: fmt.Errorf("read ca cert: %w", err)}
	}
	ta, err := os.ReadFile(m.cfg.TLSAuthKeyPath)
	if err != nil {
		return "", &provision.Error{Step: "profile", Name: name, Err: fmt.Errorf("read tls-auth key: %w", err)}
	}

	content := fmt.Sprintf(profileTemplate,
		name,
		time.Now().UTC().Format(time.RFC3339),
		m.cfg.ServerIP, m.cfg.Port,
		m.cfg.Proto,
		m.cfg.ServerIP, m.cfg.Port,
		strings.TrimSpace(string(ca)),
		strings.TrimSpace(string(ta)),
	)

	path := filepath.Join(m.cfg.ConfigDir, artifactName(name, time.Now()))
	if err := atomicwrite.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", &provision.Error{Step: "profile", Name: name, Err: err}
	}

	logger.Named("openvpn").Info("profile generated",
		logger.AccountName(name), logger.String("path", path))
	return path, nil
}

// CleanupArtifacts borra todos los .ovpn de la cuenta en ConfigDir.
func (m *Manager) CleanupArtifacts(_ context.Context, name string) bool {
	entries, err := os.ReadDir(m.cfg.ConfigDir)
	if err != nil {
		if os.IsNotExist(err) {
			return true
		}
		logger.Named("openvpn").Warn("read config dir failed", logger.Err(err))
		return false
	}
	ok := true
	prefix := name + "_"
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".ovpn") {
			continue
		}
		if err := os.Remove(filepath.Join(m.cfg.ConfigDir, e.Name())); err != nil {
			logger.Named("openvpn").Warn("remove artifact failed",
				logger.String("file", e.Name()), logger.Err(err))
			ok = false
		}
	}
	return ok
}

// artifactName arma el nombre de archivo <cuenta>_<unixts>.ovpn.
// El prefijo "<cuenta>_" es el contrato de CleanupArtifacts.
func artifactName(name string, now time.Time) string {
	return fmt.Sprintf("%s_%d.ovpn", name, now.UnixMilli())
}
