package network

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"
)

// ServerOptions ajusta o transporte.
type ServerOptions struct {
	// SendBuffer é o tamanho da fila de saída por cliente.
	SendBuffer int
	// CommandRate e CommandBurst limitam os comandos de cada cliente.
	CommandRate  float64
	CommandBurst int
	Logger       hclog.Logger
}

func (o *ServerOptions) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.CommandRate <= 0 {
		o.CommandRate = 20
	}
	if o.CommandBurst <= 0 {
		o.CommandBurst = 40
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
}

// Server promove conexões HTTP para WebSocket e as entrega ao Hub.
type Server struct {
	hub      *Hub
	opts     ServerOptions
	upgrader websocket.Upgrader
	logger   hclog.Logger
}

// NewServer aceita o EventHandler que recebe os eventos do Hub.
func NewServer(handler EventHandler, opts ServerOptions) *Server {
	opts.withDefaults()
	return &Server{
		hub:  NewHub(handler, opts.Logger),
		opts: opts,
		upgrader: websocket.Upgrader{
			// Sem restrição de origem: os clientes são confiáveis neste escopo.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: opts.Logger.Named("server"),
	}
}

// Hub devolve o Hub do servidor.
func (s *Server) Hub() *Hub { return s.hub }

// ServeHTTP é o ponto de entrada das conexões de clientes (rota /ws).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s.hub, s.opts.SendBuffer, rate.Limit(s.opts.CommandRate), s.opts.CommandBurst)

	// O writeLoop precisa existir antes do registro: OnConnect já enfileira o snapshot.
	go client.writeLoop()
	if !s.hub.registerClient(client) {
		close(client.send)
		return
	}
	go client.readLoop()
}

// Listen inicia o Hub e um servidor HTTP com o mux informado (que deve rotear /ws
// para o Server). Bloqueia até o contexto ser cancelado.
func (s *Server) Listen(ctx context.Context, address string, mux *http.ServeMux) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", "ws://"+address+"/ws")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
