package network

import (
	"encoding/json"
	"fmt"
)

// Message é o envelope padrão para toda a comunicação.
// Type roteia a mensagem, Payload é decodificado depois por quem conhece o tipo.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MaxMessageSize limita o tamanho de uma mensagem lida do cliente.
const MaxMessageSize = 64 * 1024

// TypeError é o tipo usado pelo próprio transporte para recusar mensagens.
const TypeError = "ERROR"

// ErrorPayload é o corpo de uma mensagem ERROR.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage serializa o payload e monta o envelope.
func NewMessage(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}

// MustMessage é NewMessage para payloads que sempre serializam (structs do protocolo).
func MustMessage(msgType string, payload any) Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// NewErrorMessage cria uma mensagem ERROR.
func NewErrorMessage(format string, args ...any) Message {
	return MustMessage(TypeError, ErrorPayload{Error: fmt.Sprintf(format, args...)})
}

// Decode decodifica o payload da mensagem em v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
