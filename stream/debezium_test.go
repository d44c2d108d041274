package stream

import (
	"testing"
)

const orderUpdateEnvelope = `{
	"schema": {"type": "struct", "name": "store.public.store_api_order.Envelope"},
	"payload": {
		"before": {
			"id": "a3a01d1c-8bf5-43c8-9152-c4e28c1a4b7e",
			"state": "PENDING",
			"customer_id": "7a000c94-6dcb-4d66-bb4f-58b61d2c5dcb"
		},
		"after": {
			"id": "a3a01d1c-8bf5-43c8-9152-c4e28c1a4b7e",
			"state": "CONFIRMED",
			"customer_id": "7a000c94-6dcb-4d66-bb4f-58b61d2c5dcb"
		},
		"op": "u",
		"source": {"table": "store_api_order"}
	}
}`

const orderCreateEnvelope = `{
	"payload": {
		"before": null,
		"after": {
			"id": "a3a01d1c-8bf5-43c8-9152-c4e28c1a4b7e",
			"state": "PENDING"
		},
		"op": "c"
	}
}`

func TestDecodeChangeEventUpdate(t *testing.T) {
	event := Event{
		ID:     "1726000000000-0",
		Values: map[string]interface{}{"value": orderUpdateEnvelope},
	}

	change, err := DecodeChangeEvent(event)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if change.ID != "1726000000000-0" {
		t.Errorf("Expected entry ID 1726000000000-0, got %s", change.ID)
	}
	if change.BeforeState() != "PENDING" {
		t.Errorf("Expected before state PENDING, got %s", change.BeforeState())
	}
	if change.AfterState() != "CONFIRMED" {
		t.Errorf("Expected after state CONFIRMED, got %s", change.AfterState())
	}
	if change.AfterID() != "a3a01d1c-8bf5-43c8-9152-c4e28c1a4b7e" {
		t.Errorf("Expected after id a3a01d1c-8bf5-43c8-9152-c4e28c1a4b7e, got %s", change.AfterID())
	}
}

func TestDecodeChangeEventCreateHasNoBeforeState(t *testing.T) {
	event := Event{
		ID:     "1726000000000-0",
		Values: map[string]interface{}{"value": orderCreateEnvelope},
	}

	change, err := DecodeChangeEvent(event)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if change.Before != nil {
		t.Errorf("Expected nil before snapshot, got %v", change.Before)
	}
	if change.BeforeState() != "" {
		t.Errorf("Expected empty before state, got %s", change.BeforeState())
	}
	if change.AfterState() != "PENDING" {
		t.Errorf("Expected after state PENDING, got %s", change.AfterState())
	}
}

func TestDecodeChangeEventInvalidJSON(t *testing.T) {
	event := Event{
		ID:     "1726000000000-0",
		Values: map[string]interface{}{"value": "not json"},
	}

	if _, err := DecodeChangeEvent(event); err == nil {
		t.Error("Expected an error for a non-JSON payload")
	}
}

func TestDecodeChangeEventWithoutPayload(t *testing.T) {
	event := Event{
		ID:     "1726000000000-0",
		Values: map[string]interface{}{},
	}

	if _, err := DecodeChangeEvent(event); err == nil {
		t.Error("Expected an error for an entry with no payload")
	}
}
