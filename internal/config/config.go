// Package config carga la configuración del daemon desde YAML + entorno.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults del dominio. Mismos valores que el deployment original.
const (
	DefaultValidity        = 30 * 24 * time.Hour
	DefaultMaxConnections  = 3
	DefaultBcryptCost      = 12
	DefaultSessionTimeout  = 5 * time.Minute
	DefaultSweepInterval   = 6 * time.Hour
	DefaultLogRetention    = 30 * 24 * time.Hour
	DefaultArtifactMaxAge  = time.Hour
	DefaultTelemetryPeriod = time.Minute
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
		// Nivel de log: debug | info | warn | error
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// API key para el surface administrativo (header X-Admin-API-Key).
		AdminAPIKey string `yaml:"admin_api_key"`
		// Secreto HMAC para los tokens de descarga de perfiles.
		ProfileTokenSecret string   `yaml:"profile_token_secret"`
		ProfileTokenTTL    Duration `yaml:"profile_token_ttl"`
	} `yaml:"server"`

	Storage struct {
		// postgres | memory
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL Duration `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	VPN struct {
		ServerIP       string `yaml:"server_ip"`
		Port           int    `yaml:"port"`
		Proto          string `yaml:"proto"`
		ConfigDir      string `yaml:"config_dir"`
		TempDir        string `yaml:"temp_dir"`
		CACertPath     string `yaml:"ca_cert_path"`
		TLSAuthKeyPath string `yaml:"tls_auth_key_path"`
		StatusLogPath  string `yaml:"status_log_path"`
		UserGroup      string `yaml:"user_group"`
		ServiceName    string `yaml:"service_name"`
	} `yaml:"vpn"`

	Accounts struct {
		// Período de validez de cuentas nuevas (expiresAt = createdAt + Validity).
		Validity       Duration `yaml:"validity"`
		MaxConnections int      `yaml:"max_connections"`
		BcryptCost     int      `yaml:"bcrypt_cost"`
		// Identidad externa del operador. La fila admin se asegura al boot.
		AdminRequesterID int64 `yaml:"admin_requester_id"`
	} `yaml:"accounts"`

	Session struct {
		Timeout Duration `yaml:"timeout"`
	} `yaml:"session"`

	Reconcile struct {
		Interval       Duration `yaml:"interval"`
		LogRetention   Duration `yaml:"log_retention"`
		ArtifactMaxAge Duration `yaml:"artifact_max_age"`
	} `yaml:"reconcile"`

	Telemetry struct {
		Interval Duration `yaml:"interval"`
	} `yaml:"telemetry"`

	SMTP struct {
		Enabled    bool   `yaml:"enabled"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		From       string `yaml:"from"`
		User       string `yaml:"user"`
		Pass       string `yaml:"pass"`
		AdminEmail string `yaml:"admin_email"`
	} `yaml:"smtp"`
}

// Load lee el YAML en path (si existe) y aplica overrides de entorno.
// Un path vacío carga solo defaults + entorno.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv sobreescribe campos sensibles o de deployment desde el entorno.
// El entorno gana sobre el YAML (mismo criterio que los binarios de servicio).
func (c *Config) applyEnv() {
	if v := os.Getenv("TUNNELJOHN_ENV"); v != "" {
		c.App.Env = v
	}
	if v := os.Getenv("TUNNELJOHN_LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv("TUNNELJOHN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TUNNELJOHN_ADMIN_KEY"); v != "" {
		c.Server.AdminAPIKey = v
	}
	if v := os.Getenv("TUNNELJOHN_PROFILE_TOKEN_SECRET"); v != "" {
		c.Server.ProfileTokenSecret = v
	}
	if v := os.Getenv("TUNNELJOHN_DB_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("TUNNELJOHN_DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("TUNNELJOHN_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
		if c.Cache.Kind == "" {
			c.Cache.Kind = "redis"
		}
	}
	if v := os.Getenv("TUNNELJOHN_VPN_SERVER_IP"); v != "" {
		c.VPN.ServerIP = v
	}
	if v := os.Getenv("TUNNELJOHN_VPN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.VPN.Port = p
		}
	}
	if v := os.Getenv("TUNNELJOHN_ADMIN_REQUESTER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Accounts.AdminRequesterID = id
		}
	}
	if v := os.Getenv("TUNNELJOHN_SMTP_PASS"); v != "" {
		c.SMTP.Pass = v
	}
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if c.Server.ProfileTokenTTL <= 0 {
		c.Server.ProfileTokenTTL = Duration(10 * time.Minute)
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL <= 0 {
		c.Cache.Memory.DefaultTTL = Duration(30 * time.Second)
	}
	if c.VPN.ServerIP == "" {
		c.VPN.ServerIP = "127.0.0.1"
	}
	if c.VPN.Port == 0 {
		c.VPN.Port = 1194
	}
	if c.VPN.Proto == "" {
		c.VPN.Proto = "udp"
	}
	if c.VPN.ConfigDir == "" {
		c.VPN.ConfigDir = "./configs"
	}
	if c.VPN.TempDir == "" {
		c.VPN.TempDir = "./temp"
	}
	if c.VPN.StatusLogPath == "" {
		c.VPN.StatusLogPath = "/var/log/openvpn/status.log"
	}
	if c.VPN.UserGroup == "" {
		c.VPN.UserGroup = "vpnusers"
	}
	if c.VPN.ServiceName == "" {
		c.VPN.ServiceName = "openvpn"
	}
	if c.Accounts.Validity <= 0 {
		c.Accounts.Validity = Duration(DefaultValidity)
	}
	if c.Accounts.MaxConnections <= 0 {
		c.Accounts.MaxConnections = DefaultMaxConnections
	}
	if c.Accounts.BcryptCost <= 0 {
		c.Accounts.BcryptCost = DefaultBcryptCost
	}
	if c.Session.Timeout <= 0 {
		c.Session.Timeout = Duration(DefaultSessionTimeout)
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = Duration(DefaultSweepInterval)
	}
	if c.Reconcile.LogRetention <= 0 {
		c.Reconcile.LogRetention = Duration(DefaultLogRetention)
	}
	if c.Reconcile.ArtifactMaxAge <= 0 {
		c.Reconcile.ArtifactMaxAge = Duration(DefaultArtifactMaxAge)
	}
	if c.Telemetry.Interval <= 0 {
		c.Telemetry.Interval = Duration(DefaultTelemetryPeriod)
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
}
