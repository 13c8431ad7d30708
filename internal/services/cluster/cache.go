package cluster

import (
	"context"
	"time"

	consul "github.com/hashicorp/consul/api"
)

type serviceCacheEntry struct {
	instance   Instance
	expiration time.Time
}

type discoveryResult struct {
	instance Instance
	err      error
}

// discoveryRequest é a "mensagem" enviada ao ator do cache.
type discoveryRequest struct {
	serviceName string
	reply       chan<- discoveryResult
}

// ServiceCacheActor guarda a última instância descoberta de cada serviço por ttl.
// Todo o estado pertence à goroutine run.
type ServiceCacheActor struct {
	entries map[string]serviceCacheEntry
	ttl     time.Duration
	client  *consul.Client

	// Mailbox
	requestCh chan discoveryRequest
	invalidCh chan string
	done      chan struct{}
}

func NewServiceCacheActor(ttl time.Duration, client *consul.Client) *ServiceCacheActor {
	sc := &ServiceCacheActor{
		entries:   make(map[string]serviceCacheEntry),
		ttl:       ttl,
		client:    client,
		requestCh: make(chan discoveryRequest),
		invalidCh: make(chan string),
		done:      make(chan struct{}),
	}
	go sc.run()
	return sc
}

func (sc *ServiceCacheActor) run() {
	for {
		select {
		case <-sc.done:
			return
		case name := <-sc.invalidCh:
			delete(sc.entries, name)
		case req := <-sc.requestCh:
			entry, found := sc.entries[req.serviceName]
			if found && time.Now().Before(entry.expiration) {
				req.reply <- discoveryResult{instance: entry.instance}
				continue
			}

			instance, err := discoverWithClient(sc.client, req.serviceName, DiscoveryOptions{Mode: ModeAnyHealthy})
			if err == nil {
				sc.entries[req.serviceName] = serviceCacheEntry{
					instance:   instance,
					expiration: time.Now().Add(sc.ttl),
				}
			}
			req.reply <- discoveryResult{instance: instance, err: err}
		}
	}
}

// Discover devolve uma instância saudável, do cache quando possível.
func (sc *ServiceCacheActor) Discover(ctx context.Context, serviceName string) (Instance, error) {
	replyCh := make(chan discoveryResult, 1)
	select {
	case sc.requestCh <- discoveryRequest{serviceName: serviceName, reply: replyCh}:
	case <-sc.done:
		return Instance{}, context.Canceled
	case <-ctx.Done():
		return Instance{}, ctx.Err()
	}
	select {
	case res := <-replyCh:
		return res.instance, res.err
	case <-ctx.Done():
		return Instance{}, ctx.Err()
	}
}

// Invalidate descarta a entrada de um serviço (ex.: a conexão com a instância caiu).
func (sc *ServiceCacheActor) Invalidate(serviceName string) {
	select {
	case sc.invalidCh <- serviceName:
	case <-sc.done:
	}
}

// Close encerra o ator.
func (sc *ServiceCacheActor) Close() {
	close(sc.done)
}
