package network

import (
	"time"

	"github.com/armon/go-metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Tempo para aguardar por uma escrita na conexão.
	writeWait = 10 * time.Second

	// Tempo máximo para aguardar por uma resposta de pong do cliente.
	pongWait = 60 * time.Second

	// Frequência dos pings. Deve ser menor que pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client é um participante conectado do ponto de vista do host.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	// Fila de saída. Só o Hub escreve aqui e só o Hub fecha o canal.
	// A ordem do canal é a ordem de entrega para este cliente.
	send chan Message

	// Limita a taxa de comandos. Só é usado pela goroutine do Hub.
	limiter *rate.Limiter
}

func newClient(conn *websocket.Conn, hub *Hub, bufferSize int, limit rate.Limit, burst int) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		hub:     hub,
		send:    make(chan Message, bufferSize),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// ID é o identificador da conexão.
func (c *Client) ID() string { return c.id }

// RemoteAddr devolve o endereço do jogador, útil para logs.
func (c *Client) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Send enfileira uma mensagem para este cliente sem bloquear.
// Deve ser chamado apenas pela goroutine do Hub (ou seja, de dentro do EventHandler).
// Se a fila estiver cheia o cliente é derrubado e a mensagem é descartada.
func (c *Client) Send(msg Message) bool {
	// Já derrubado (a fila está fechada).
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- msg:
		metrics.IncrCounter([]string{"network", "enqueued"}, 1)
		return true
	default:
		metrics.IncrCounter([]string{"network", "dropped"}, 1)
		c.hub.drop(c, "send buffer full")
		return false
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("unexpected close", "client", c.id, "addr", c.RemoteAddr(), "error", err)
			}
			return
		}

		if !c.hub.deliverIncoming(clientMessage{client: c, msg: msg}) {
			return
		}
	}
}

// writeLoop bombeia mensagens do canal 'send' para a conexão WebSocket.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// O Hub fechou o canal: o cliente foi desregistrado.
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.logger.Warn("write failed", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
