package network

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
)

// ErrHubStopped é devolvido por Do quando o Hub já terminou.
var ErrHubStopped = errors.New("network: hub stopped")

// clientMessage empacota a mensagem com o cliente que a enviou.
type clientMessage struct {
	client *Client
	msg    Message
}

// Hub mantém o conjunto de clientes ativos e roteia eventos para o handler.
// Todo o estado é acessado SOMENTE pela goroutine de Run: os comandos de todos
// os participantes viram um único fluxo ordenado.
type Hub struct {
	// Clientes registrados. Acessado somente pela goroutine do Hub.
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	incoming   chan clientMessage
	calls      chan func()

	done    chan struct{}
	running atomic.Bool

	handler EventHandler
	logger  hclog.Logger
}

// NewHub cria, inicializa e retorna um novo Hub.
func NewHub(handler EventHandler, logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan clientMessage),
		calls:      make(chan func()),
		done:       make(chan struct{}),
		handler:    handler,
		logger:     logger.Named("hub"),
	}
}

// Run processa registros, saídas e mensagens até o contexto ser cancelado.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	h.logger.Info("hub started")
	defer func() {
		h.running.Store(false)
		for c := range h.clients {
			h.drop(c, "hub stopped")
		}
		close(h.done)
		h.logger.Info("hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			metrics.IncrCounter([]string{"network", "connected"}, 1)
			h.logger.Debug("client registered", "client", client.id, "total", len(h.clients))
			h.handler.OnConnect(client)

		case client := <-h.unregister:
			h.drop(client, "connection closed")

		case cm := <-h.incoming:
			if _, ok := h.clients[cm.client]; !ok {
				continue
			}
			if !cm.client.limiter.Allow() {
				metrics.IncrCounter([]string{"network", "throttled"}, 1)
				cm.client.Send(NewErrorMessage("rate limit exceeded, %s ignored", cm.msg.Type))
				continue
			}
			metrics.IncrCounter([]string{"network", "received"}, 1)
			h.handler.OnMessage(cm.client, cm.msg)

		case fn := <-h.calls:
			fn()
		}
	}
}

// Running informa se a goroutine do Hub está ativa.
func (h *Hub) Running() bool { return h.running.Load() }

// Broadcast entrega a mensagem a todos os clientes conectados.
// Só pode ser chamado de dentro da goroutine do Hub (EventHandler ou Do).
func (h *Hub) Broadcast(msg Message) {
	for c := range h.clients {
		c.Send(msg)
	}
}

// Len devolve o número de clientes. Só de dentro da goroutine do Hub.
func (h *Hub) Len() int { return len(h.clients) }

// Do executa fn na goroutine do Hub e espera terminar.
func (h *Hub) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case h.calls <- wrapped:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// drop remove o cliente, fecha a fila de saída e avisa o handler.
// Só de dentro da goroutine do Hub.
func (h *Hub) drop(c *Client, reason string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	// Fechar 'send' é o sinal para o writeLoop daquele cliente parar.
	close(c.send)
	metrics.IncrCounter([]string{"network", "disconnected"}, 1)
	h.logger.Debug("client removed", "client", c.id, "reason", reason, "total", len(h.clients))
	h.handler.OnDisconnect(c)
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) deliverIncoming(cm clientMessage) bool {
	select {
	case h.incoming <- cm:
		return true
	case <-h.done:
		return false
	}
}
