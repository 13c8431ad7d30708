// Package config carrega a configuração dos binários a partir de variáveis de ambiente.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Host é a configuração do processo autoritativo (cmd/host).
type Host struct {
	ServiceName   string `env:"RINGHUNT_SERVICE_NAME" envDefault:"ringhunt-host"`
	ServicePort   int    `env:"RINGHUNT_SERVICE_PORT" envDefault:"8080"`
	AdvertiseAddr string `env:"ADVERTISE_ADDR"`

	// Número de participantes prontos que inicia a sessão.
	ExpectedPlayers int `env:"RINGHUNT_EXPECTED_PLAYERS" envDefault:"2"`
	// RejectAfterWin recusa CLAIM_RING depois da vitória.
	RejectAfterWin bool `env:"RINGHUNT_REJECT_AFTER_WIN" envDefault:"true"`
	// KnownParticipantsOnly troca a política AcceptAll por KnownParticipants.
	KnownParticipantsOnly bool `env:"RINGHUNT_KNOWN_PARTICIPANTS_ONLY" envDefault:"false"`

	SendBuffer   int     `env:"RINGHUNT_SEND_BUFFER" envDefault:"256"`
	CommandRate  float64 `env:"RINGHUNT_COMMAND_RATE" envDefault:"20"`
	CommandBurst int     `env:"RINGHUNT_COMMAND_BURST" envDefault:"40"`

	CellSize float64 `env:"RINGHUNT_CELL_SIZE" envDefault:"1"`
	// Seed fixa o gerador das buscas de posição; 0 usa o relógio.
	Seed uint64 `env:"RINGHUNT_SEED" envDefault:"0"`
	// TerrainFile é o JSON exportado do tilemap com as camadas forest, trees e cave.
	// Sem ele só as entidades colocadas em tempo de execução bloqueiam as buscas.
	TerrainFile string `env:"RINGHUNT_TERRAIN_FILE"`

	ConsulAddr string `env:"CONSUL_HTTP_ADDR"`
	NatsURL    string `env:"NATS_URL"`

	Log Log
}

// Client é a configuração dos clientes (cmd/bot e cmd/spectator).
type Client struct {
	Name string `env:"RINGHUNT_NAME" envDefault:"bot"`
	// HostAddr tem prioridade sobre a descoberta via Consul.
	HostAddr    string `env:"RINGHUNT_HOST_ADDR"`
	ServiceName string `env:"RINGHUNT_SERVICE_NAME" envDefault:"ringhunt-host"`
	ConsulAddr  string `env:"CONSUL_HTTP_ADDR"`

	NatsURL   string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	SessionID string        `env:"RINGHUNT_SESSION_ID"`
	Timeout   time.Duration `env:"RINGHUNT_TIMEOUT" envDefault:"30s"`

	Log Log
}

type Log struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	JSON  bool   `env:"LOG_JSON" envDefault:"false"`
}

// Logger cria o logger raiz do processo.
func (l Log) Logger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(l.Level),
		JSONFormat: l.JSON,
	})
}

// LoadHost lê a configuração do host do ambiente do processo.
func LoadHost() (Host, error) {
	return LoadHostFrom(nil)
}

// LoadHostFrom lê a configuração de um ambiente explícito (nil usa o do processo).
func LoadHostFrom(environ map[string]string) (Host, error) {
	var cfg Host
	if err := parse(&cfg, environ); err != nil {
		return Host{}, err
	}
	return cfg, cfg.Validate()
}

func LoadClient() (Client, error) {
	return LoadClientFrom(nil)
}

func LoadClientFrom(environ map[string]string) (Client, error) {
	var cfg Client
	if err := parse(&cfg, environ); err != nil {
		return Client{}, err
	}
	return cfg, cfg.Validate()
}

func parse(target any, environ map[string]string) error {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate devolve todos os problemas encontrados de uma vez.
func (c Host) Validate() error {
	var result *multierror.Error
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		result = multierror.Append(result, fmt.Errorf("RINGHUNT_SERVICE_PORT out of range: %d", c.ServicePort))
	}
	if c.ExpectedPlayers < 1 {
		result = multierror.Append(result, fmt.Errorf("RINGHUNT_EXPECTED_PLAYERS must be at least 1, got %d", c.ExpectedPlayers))
	}
	if c.SendBuffer < 1 {
		result = multierror.Append(result, fmt.Errorf("RINGHUNT_SEND_BUFFER must be positive, got %d", c.SendBuffer))
	}
	if c.CommandRate <= 0 || c.CommandBurst < 1 {
		result = multierror.Append(result, errors.New("RINGHUNT_COMMAND_RATE and RINGHUNT_COMMAND_BURST must be positive"))
	}
	if c.CellSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("RINGHUNT_CELL_SIZE must be positive, got %v", c.CellSize))
	}
	if err := c.Log.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (c Client) Validate() error {
	var result *multierror.Error
	if c.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("RINGHUNT_TIMEOUT must be positive, got %v", c.Timeout))
	}
	if err := c.Log.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (l Log) validate() error {
	if hclog.LevelFromString(l.Level) == hclog.NoLevel {
		return fmt.Errorf("LOG_LEVEL unknown: %q", l.Level)
	}
	return nil
}
