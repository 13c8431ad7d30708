package cluster

import (
	"fmt"
	"strings"

	consul "github.com/hashicorp/consul/api"
	"github.com/hashicorp/go-hclog"
)

// NewConsulClient tenta cada endereço da lista (separada por vírgulas) até achar
// um agente que responda e conheça o líder do cluster.
func NewConsulClient(addrs string, logger hclog.Logger) (*consul.Client, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	for _, node := range strings.Split(addrs, ",") {
		node = strings.TrimSpace(node)
		if node == "" {
			continue
		}
		cfg := consul.DefaultConfig()
		cfg.Address = node

		client, err := consul.NewClient(cfg)
		if err != nil {
			logger.Warn("consul client failed", "addr", node, "error", err)
			continue
		}

		// Teste rápido de saúde
		if _, err := client.Status().Leader(); err != nil {
			logger.Warn("consul agent not responding", "addr", node, "error", err)
			continue
		}

		logger.Debug("connected to consul", "addr", node)
		return client, nil
	}

	return nil, fmt.Errorf("cluster: no consul agent available in %q", addrs)
}
