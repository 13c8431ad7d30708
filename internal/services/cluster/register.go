package cluster

import (
	"fmt"
	"os"

	consul "github.com/hashicorp/consul/api"
	"github.com/hashicorp/go-hclog"
)

// Registration descreve a instância anunciada no Consul.
type Registration struct {
	ServiceName string
	ServicePort int
	// AdvertiseAddr é o host usado no check HTTP e anunciado aos clientes.
	// Vazio usa o hostname do contêiner.
	AdvertiseAddr string
	// Meta vai junto no registro (ex.: sessionId, subject NATS).
	Meta map[string]string
}

func (r Registration) advertise() string {
	if r.AdvertiseAddr != "" {
		return r.AdvertiseAddr
	}
	hostname := os.Getenv("HOSTNAME")
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return hostname
}

// ServiceID é o id único da instância.
func (r Registration) ServiceID() string {
	return fmt.Sprintf("%s-%s-%d", r.ServiceName, r.advertise(), r.ServicePort)
}

// Register anuncia o serviço com um check HTTP em /health e devolve a função
// que remove o registro no desligamento.
func Register(client *consul.Client, reg Registration, logger hclog.Logger) (deregister func() error, err error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	host := reg.advertise()
	serviceID := reg.ServiceID()

	registration := &consul.AgentServiceRegistration{
		ID:      serviceID,
		Name:    reg.ServiceName,
		Port:    reg.ServicePort,
		Address: reg.AdvertiseAddr,
		Meta:    reg.Meta,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", host, reg.ServicePort),
			Timeout:                        "5s",
			Interval:                       "10s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}

	if err := client.Agent().ServiceRegister(registration); err != nil {
		return nil, fmt.Errorf("cluster: registering %s: %w", reg.ServiceName, err)
	}
	logger.Info("service registered", "service", reg.ServiceName, "id", serviceID)

	return func() error {
		if err := client.Agent().ServiceDeregister(serviceID); err != nil {
			return fmt.Errorf("cluster: deregistering %s: %w", serviceID, err)
		}
		logger.Info("service deregistered", "id", serviceID)
		return nil
	}, nil
}
