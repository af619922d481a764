// Package openvpn implementa provision.Provisioner contra un servidor
// OpenVPN con autenticación por usuarios del sistema (plugin auth-pam).
//
// Las credenciales son usuarios del SO sin shell; los artefactos son
// archivos .ovpn con el material TLS embebido.
package openvpn

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
	"github.com/dropDatabas3/tunneljohn/internal/provision"
)

// Config parametriza el provisioner para un deployment concreto.
type Config struct {
	ServerIP string
	Port     int
	Proto    string // "udp" | "tcp"

	// ConfigDir es el directorio de artefactos .ovpn.
	ConfigDir string

	// CACertPath y TLSAuthKeyPath apuntan al material TLS del servidor;
	// se embeben en cada perfil. Este módulo nunca genera claves.
	CACertPath     string
	TLSAuthKeyPath string

	// StatusLogPath es el status log del servidor OpenVPN.
	StatusLogPath string

	// UserGroup es el grupo del SO al que pertenecen las credenciales.
	UserGroup string

	// ServiceName es la unidad systemd del servidor (para Restart/Status).
	ServiceName string
}

// Runner ejecuta un comando del sistema. Inyectable para tests.
type Runner func(ctx context.Context, stdin string, name string, args ...string) (string, error)

// execRunner es el Runner real.
func execRunner(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Manager implementa provision.Provisioner y provision.StatusSource.
type Manager struct {
	cfg Config
	run Runner
}

// New crea un Manager con el Runner real.
func New(cfg Config) *Manager {
	return NewWithRunner(cfg, execRunner)
}

// NewWithRunner permite inyectar el Runner (tests).
func NewWithRunner(cfg Config, run Runner) *Manager {
	if cfg.Proto == "" {
		cfg.Proto = "udp"
	}
	return &Manager{cfg: cfg, run: run}
}

var _ provision.Provisioner = (*Manager)(nil)
var _ provision.StatusSource = (*Manager)(nil)

// CreateCredential crea el usuario del SO para la cuenta, o resetea su
// password si ya existe (útil para retomar un provisioning a medias).
func (m *Manager) CreateCredential(ctx context.Context, name, secret string) (string, error) {
	log := logger.Named("openvpn").With(logger.AccountName(name))

	if _, err := m.run(ctx, "", "id", "-u", name); err != nil {
		args := []string{"--no-create-home", "--shell", "/usr/sbin/nologin"}
		if m.cfg.UserGroup != "" {
			// El grupo puede existir de antes; ignorar el error del add.
			_, _ = m.run(ctx, "", "groupadd", "--force", m.cfg.UserGroup)
			args = append(args, "--gid", m.cfg.UserGroup)
		}
		args = append(args, name)
		if _, err := m.run(ctx, "", "useradd", args...); err != nil {
			return "", &provision.Error{Step: "credential", Name: name, Err: err}
		}
		log.Info("system user created")
	} else {
		log.Info("system user already exists, resetting password")
	}

	// chpasswd lee "user:password" por stdin; el secreto nunca pasa por argv.
	if _, err := m.run(ctx, name+":"+secret, "chpasswd"); err != nil {
		return "", &provision.Error{Step: "credential", Name: name, Err: err}
	}
	return "system-user:" + name, nil
}

// DeleteCredential elimina el usuario del SO.
func (m *Manager) DeleteCredential(ctx context.Context, name string) bool {
	if _, err := m.run(ctx, "", "userdel", name); err != nil {
		logger.Named("openvpn").Warn("userdel failed",
			logger.AccountName(name), logger.Err(err))
		return false
	}
	return true
}

// EnableCredential desbloquea el password del usuario.
func (m *Manager) EnableCredential(ctx context.Context, name string) bool {
	if _, err := m.run(ctx, "", "usermod", "--unlock", name); err != nil {
		logger.Named("openvpn").Warn("usermod --unlock failed",
			logger.AccountName(name), logger.Err(err))
		return false
	}
	return true
}

// DisableCredential bloquea el password del usuario. Un usuario bloqueado
// no puede autenticar contra auth-pam aunque el servidor siga corriendo.
func (m *Manager) DisableCredential(ctx context.Context, name string) bool {
	if _, err := m.run(ctx, "", "usermod", "--lock", name); err != nil {
		logger.Named("openvpn").Warn("usermod --lock failed",
			logger.AccountName(name), logger.Err(err))
		return false
	}
	return true
}

// ServiceStatus retorna el estado de la unidad del servidor VPN.
func (m *Manager) ServiceStatus(ctx context.Context) (string, bool) {
	out, err := m.run(ctx, "", "systemctl", "is-active", m.cfg.ServiceName)
	state := strings.TrimSpace(out)
	if err != nil && state == "" {
		return "unknown", false
	}
	return state, state == "active"
}

// RestartService reinicia la unidad del servidor VPN.
func (m *Manager) RestartService(ctx context.Context) error {
	if _, err := m.run(ctx, "", "systemctl", "restart", m.cfg.ServiceName); err != nil {
		return fmt.Errorf("restart %s: %w", m.cfg.ServiceName, err)
	}
	return nil
}
