package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Server  ServerConfig  `json:"server"`
	Routing RoutingConfig `json:"routing"`
	AMQP    AMQPConfig    `json:"amqp"`
	Seed    SeedConfig    `json:"seed"`
}

type ServerConfig struct {
	HTTPPort int    `json:"http_port"`
	DataDir  string `json:"data_dir"`
	LogDir   string `json:"log_dir"`
}

type RoutingConfig struct {
	AllowAnonymousLeads bool `json:"allow_anonymous_leads"`
	// gjson paths probed in the raw payload when a request carries no
	// explicit identity fields.
	IdentityPaths   IdentityPathsConfig `json:"identity_paths"`
	MaxClaimRedraws int                 `json:"max_claim_redraws"`
}

type IdentityPathsConfig struct {
	ExternalID string `json:"external_id"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
}

type AMQPConfig struct {
	URL                string `json:"url"`
	Exchange           string `json:"exchange"`
	InboundQueue       string `json:"inbound_queue"`
	InboundRoutingKey  string `json:"inbound_routing_key"`
	OutboundRoutingKey string `json:"outbound_routing_key"`
	Prefetch           int    `json:"prefetch"`
	ConnTimeoutSec     int    `json:"conn_timeout_sec"`
	BackoffBaseSec     int    `json:"backoff_base_sec"`
	BackoffCapSec      int    `json:"backoff_cap_sec"`
	JitterPercent      int    `json:"jitter_percent"`
}

type SeedConfig struct {
	Path string `json:"path"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPPort: 8080,
			DataDir:  filepath.Join("output", "db"),
			LogDir:   filepath.Join("output", "logs"),
		},
		Routing: RoutingConfig{
			AllowAnonymousLeads: true,
			IdentityPaths: IdentityPathsConfig{
				ExternalID: "external_id",
				Phone:      "phone",
				Email:      "email",
			},
			MaxClaimRedraws: 8,
		},
		AMQP: AMQPConfig{
			Exchange:           "crm.contacts",
			InboundQueue:       "crm.contacts.inbound",
			InboundRoutingKey:  "contact.inbound.*",
			OutboundRoutingKey: "contact.routed",
			Prefetch:           8,
			ConnTimeoutSec:     30,
			BackoffBaseSec:     1,
			BackoffCapSec:      30,
			JitterPercent:      25,
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPPort <= 0 {
		cfg.Server.HTTPPort = 8080
	}
	if strings.TrimSpace(cfg.Server.DataDir) == "" {
		cfg.Server.DataDir = filepath.Join("output", "db")
	}
	if strings.TrimSpace(cfg.Server.LogDir) == "" {
		cfg.Server.LogDir = filepath.Join("output", "logs")
	}
	if strings.TrimSpace(cfg.Routing.IdentityPaths.ExternalID) == "" {
		cfg.Routing.IdentityPaths.ExternalID = "external_id"
	}
	if strings.TrimSpace(cfg.Routing.IdentityPaths.Phone) == "" {
		cfg.Routing.IdentityPaths.Phone = "phone"
	}
	if strings.TrimSpace(cfg.Routing.IdentityPaths.Email) == "" {
		cfg.Routing.IdentityPaths.Email = "email"
	}
	if cfg.Routing.MaxClaimRedraws <= 0 {
		cfg.Routing.MaxClaimRedraws = 8
	}
	if strings.TrimSpace(cfg.AMQP.Exchange) == "" {
		cfg.AMQP.Exchange = "crm.contacts"
	}
	if strings.TrimSpace(cfg.AMQP.InboundQueue) == "" {
		cfg.AMQP.InboundQueue = "crm.contacts.inbound"
	}
	if strings.TrimSpace(cfg.AMQP.InboundRoutingKey) == "" {
		cfg.AMQP.InboundRoutingKey = "contact.inbound.*"
	}
	if strings.TrimSpace(cfg.AMQP.OutboundRoutingKey) == "" {
		cfg.AMQP.OutboundRoutingKey = "contact.routed"
	}
	if cfg.AMQP.Prefetch <= 0 {
		cfg.AMQP.Prefetch = 8
	}
	if cfg.AMQP.ConnTimeoutSec <= 0 {
		cfg.AMQP.ConnTimeoutSec = 30
	}
	if cfg.AMQP.BackoffBaseSec <= 0 {
		cfg.AMQP.BackoffBaseSec = 1
	}
	if cfg.AMQP.BackoffCapSec <= 0 {
		cfg.AMQP.BackoffCapSec = 30
	}
	if cfg.AMQP.JitterPercent <= 0 {
		cfg.AMQP.JitterPercent = 25
	}
}
