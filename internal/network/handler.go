package network

// EventHandler conecta o transporte com a lógica da sessão.
// Todos os métodos são chamados pela goroutine do Hub, um de cada vez:
// a implementação não precisa de lock para o próprio estado.
type EventHandler interface {
	// OnConnect é chamado quando um novo cliente se conecta, antes de ele
	// receber qualquer broadcast.
	OnConnect(c *Client)

	// OnDisconnect é chamado quando um cliente sai ou é derrubado pelo Hub.
	OnDisconnect(c *Client)

	// OnMessage é chamado para cada mensagem recebida, na ordem em que o cliente enviou.
	OnMessage(c *Client, msg Message)
}
