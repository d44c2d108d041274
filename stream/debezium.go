package stream

import (
	"encoding/json"
	"fmt"
)

// ChangeEvent é um envelope de mudança Debezium decodificado: um par de
// snapshots nomeados antes/depois de uma mudança de linha. Before é nil em
// eventos de criação; After é nil em eventos de exclusão.
type ChangeEvent struct {
	ID     string
	Before map[string]any
	After  map[string]any
}

// BeforeState retorna o campo state do snapshot anterior, ou vazio
func (e ChangeEvent) BeforeState() string {
	return stringField(e.Before, "state")
}

// AfterState retorna o campo state do snapshot posterior, ou vazio
func (e ChangeEvent) AfterState() string {
	return stringField(e.After, "state")
}

// AfterID retorna o campo id do snapshot posterior, ou vazio
func (e ChangeEvent) AfterID() string {
	return stringField(e.After, "id")
}

func stringField(snapshot map[string]any, field string) string {
	if snapshot == nil {
		return ""
	}
	value, _ := snapshot[field].(string)
	return value
}

type debeziumEnvelope struct {
	Payload struct {
		Before map[string]any `json:"before"`
		After  map[string]any `json:"after"`
	} `json:"payload"`
}

// DecodeChangeEvent decodifica uma entrada crua do stream num ChangeEvent.
// O sink Debezium grava um único par chave/valor por entrada, com o
// envelope JSON no valor.
func DecodeChangeEvent(event Event) (ChangeEvent, error) {
	for _, value := range event.Values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		var envelope debeziumEnvelope
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			return ChangeEvent{}, fmt.Errorf("failed to decode change envelope for entry %s: %w", event.ID, err)
		}

		return ChangeEvent{
			ID:     event.ID,
			Before: envelope.Payload.Before,
			After:  envelope.Payload.After,
		}, nil
	}

	return ChangeEvent{}, fmt.Errorf("entry %s has no decodable payload", event.ID)
}
