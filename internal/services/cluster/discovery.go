package cluster

import (
	"errors"
	"fmt"
	"math/rand/v2"

	consul "github.com/hashicorp/consul/api"
	"github.com/hashicorp/go-hclog"
)

// ErrNoInstance indica que nenhuma instância saudável atende ao pedido.
var ErrNoInstance = errors.New("cluster: no healthy instance")

type DiscoveryMode int

const (
	ModeAnyHealthy DiscoveryMode = iota
	ModeSpecific
)

type DiscoveryOptions struct {
	Mode DiscoveryMode
	// SpecificID é o ServiceID exigido por ModeSpecific.
	SpecificID string
}

// Instance é uma instância saudável encontrada no catálogo.
type Instance struct {
	ID      string
	Address string
	Meta    map[string]string
}

// Discover cria um cliente e procura uma instância do serviço.
func Discover(serviceName, consulAddrs string, opts DiscoveryOptions, logger hclog.Logger) (Instance, error) {
	client, err := NewConsulClient(consulAddrs, logger)
	if err != nil {
		return Instance{}, err
	}
	return discoverWithClient(client, serviceName, opts)
}

func discoverWithClient(client *consul.Client, serviceName string, opts DiscoveryOptions) (Instance, error) {
	services, _, err := client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return Instance{}, fmt.Errorf("cluster: querying %s: %w", serviceName, err)
	}

	switch opts.Mode {
	case ModeSpecific:
		if opts.SpecificID == "" {
			return Instance{}, errors.New("cluster: ModeSpecific requires SpecificID")
		}
		for _, s := range services {
			if s.Service.ID == opts.SpecificID {
				return instanceOf(s), nil
			}
		}
		return Instance{}, fmt.Errorf("%w: %s/%s", ErrNoInstance, serviceName, opts.SpecificID)

	default: // ModeAnyHealthy
		if len(services) == 0 {
			return Instance{}, fmt.Errorf("%w: %s", ErrNoInstance, serviceName)
		}
		return instanceOf(services[rand.IntN(len(services))]), nil
	}
}

func instanceOf(s *consul.ServiceEntry) Instance {
	addr := s.Service.Address
	if addr == "" && s.Node != nil {
		addr = s.Node.Address
	}
	return Instance{
		ID:      s.Service.ID,
		Address: fmt.Sprintf("%s:%d", addr, s.Service.Port),
		Meta:    s.Service.Meta,
	}
}
