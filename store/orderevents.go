package store

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/hvieira/store-service/stream"
)

// PaymentProcessor é a transição derivada disparada pelos eventos de mudança
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, orderID string) error
}

// EventConsumer abstrai a leitura e confirmação de entradas do stream
type EventConsumer interface {
	ReadEvents(ctx context.Context, session *stream.Session) ([]stream.Event, error)
	Ack(ctx context.Context, ids ...string) error
}

type transitionKey struct {
	before string
	after  string
}

type changeEventHandler func(ctx context.Context, change stream.ChangeEvent) error

// OrderEventProcessor observa as mudanças da tabela de pedidos e aplica as
// transições derivadas. O roteamento é uma tabela de (estado anterior,
// estado posterior) para handler; pares sem handler são no-op e ainda assim
// confirmados, para não acumularem na lista de pendências do grupo.
type OrderEventProcessor struct {
	orders   PaymentProcessor
	consumer EventConsumer
	handlers map[transitionKey]changeEventHandler
}

// NewOrderEventProcessor cria uma nova instância de OrderEventProcessor
func NewOrderEventProcessor(orders PaymentProcessor, consumer EventConsumer) *OrderEventProcessor {
	p := &OrderEventProcessor{
		orders:   orders,
		consumer: consumer,
	}
	p.handlers = map[transitionKey]changeEventHandler{
		{before: OrderStatePending, after: OrderStateConfirmed}: p.handleOrderConfirmed,
	}
	return p
}

// ProcessEvent decodifica e despacha uma entrada. Retorna o ID da entrada
// para confirmação; um erro indica que a entrada não deve ser confirmada e
// será reentregue.
func (p *OrderEventProcessor) ProcessEvent(ctx context.Context, event stream.Event) (string, error) {
	change, err := stream.DecodeChangeEvent(event)
	if err != nil {
		return "", err
	}

	handler, ok := p.handlers[transitionKey{before: change.BeforeState(), after: change.AfterState()}]
	if !ok {
		return event.ID, nil
	}

	if err := handler(ctx, change); err != nil {
		return "", err
	}
	return event.ID, nil
}

// handleOrderConfirmed processa o pagamento do pedido referenciado pelo
// snapshot posterior. Pedido inexistente é ignorado; um pedido que já saiu
// do estado confirmável (por exemplo, revertido pelo reconciliador antes do
// evento chegar) também é tratado como no-op confirmável.
func (p *OrderEventProcessor) handleOrderConfirmed(ctx context.Context, change stream.ChangeEvent) error {
	orderID := change.AfterID()

	err := p.orders.ProcessPayment(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		log.Printf("ℹ️  [EVENTS] Order %s from entry %s was not found. Ignoring...", orderID, change.ID)
		return nil
	}
	var transitionErr *TransitionError
	if errors.As(err, &transitionErr) {
		log.Printf("ℹ️  [EVENTS] Order %s from entry %s is %s, payment skipped", orderID, change.ID, transitionErr.From)
		return nil
	}
	return err
}

// Run executa o laço de consumo até o contexto ser cancelado. Falhas por
// entrada são registradas sem confirmar a entrada; uma entrada ruim nunca
// para o laço.
func (p *OrderEventProcessor) Run(ctx context.Context) {
	log.Printf("🚀 [EVENTS] Order event consumer started")
	session := stream.NewSession()

	for {
		select {
		case <-ctx.Done():
			log.Printf("ℹ️  [EVENTS] Order event consumer stopped")
			return
		default:
		}

		if err := p.processBatch(ctx, session); err != nil {
			log.Printf("❌ [EVENTS] Read failed: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (p *OrderEventProcessor) processBatch(ctx context.Context, session *stream.Session) error {
	events, err := p.consumer.ReadEvents(ctx, session)
	if err != nil {
		return err
	}

	for _, event := range events {
		id, err := p.ProcessEvent(ctx, event)
		if err != nil {
			log.Printf("❌ [EVENTS] Failed to process entry %s: %v", event.ID, err)
			continue
		}
		if err := p.consumer.Ack(ctx, id); err != nil {
			log.Printf("❌ [EVENTS] Failed to ack entry %s: %v", id, err)
		}
	}
	return nil
}
