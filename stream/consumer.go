// Package stream implementa o consumo de eventos de mudança (CDC) via
// Redis Streams com grupos de consumidores.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// StartFromBeginning consome o histórico completo do stream
	StartFromBeginning = "0"
	// StartFromNew consome apenas mensagens novas
	StartFromNew = "$"

	defaultClaimMinIdle = 60 * time.Second
	defaultReadCount    = 10
	defaultReadBlock    = 5 * time.Second
)

// Event é uma entrada crua lida do stream
type Event struct {
	ID     string
	Values map[string]interface{}
}

// Session carrega o estado do laço de leitura entre chamadas. Draining
// indica que o consumidor ainda está esvaziando seu backlog de mensagens
// entregues e não confirmadas; quando o backlog esvazia, o consumidor passa
// a ler apenas mensagens novas.
type Session struct {
	Draining bool
}

// NewSession cria uma sessão de leitura começando pelo backlog
func NewSession() *Session {
	return &Session{Draining: true}
}

// RedisClient é o subconjunto do cliente Redis usado pelo consumidor
type RedisClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Consumer lê um stream particionado através de um grupo de consumidores
type Consumer struct {
	client  RedisClient
	stream  string
	group   string
	name    string
	startID string

	claimMinIdle time.Duration
	readCount    int64
	readBlock    time.Duration
}

// NewConsumer cria uma nova instância de Consumer. startID define a posição
// inicial do grupo: StartFromBeginning ou StartFromNew.
func NewConsumer(client RedisClient, stream, group, name, startID string) *Consumer {
	return &Consumer{
		client:       client,
		stream:       stream,
		group:        group,
		name:         name,
		startID:      startID,
		claimMinIdle: defaultClaimMinIdle,
		readCount:    defaultReadCount,
		readBlock:    defaultReadBlock,
	}
}

// Init cria o grupo de consumidores, criando também o stream se necessário.
// Um grupo já existente não é erro.
func (c *Consumer) Init(ctx context.Context) error {
	reply, err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, c.startID).Result()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			log.Printf("ℹ️  [STREAM] Consumer group %s already exists on %s", c.group, c.stream)
			return nil
		}
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	log.Printf("✅ [STREAM] Consumer group %s created on %s: %s", c.group, c.stream, reply)
	return nil
}

// ReadEvents lê o próximo lote de eventos, em ordem estrita de prioridade:
//
//  1. entradas abandonadas por outros consumidores além do limite de
//     ociosidade (idle-claim);
//  2. o backlog pendente deste consumidor, enquanto a sessão estiver em
//     Draining — a primeira leitura vazia desliga o modo e não retorna nada
//     neste ciclo;
//  3. mensagens novas.
//
// Assim que um nível retorna entradas, o ciclo termina sem consultar os
// níveis seguintes.
func (c *Consumer) ReadEvents(ctx context.Context, session *Session) ([]Event, error) {
	// 1. idle-claim
	claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  c.claimMinIdle,
		Start:    "0-0",
		Count:    c.readCount,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to claim idle entries: %w", err)
	}
	if len(claimed) > 0 {
		log.Printf("ℹ️  [STREAM] Claimed %d idle entries from group %s", len(claimed), c.group)
		return toEvents(claimed), nil
	}

	// 2. backlog pendente deste consumidor
	if session.Draining {
		events, err := c.readGroup(ctx, StartFromBeginning, 0)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			session.Draining = false
			return nil, nil
		}
		return events, nil
	}

	// 3. mensagens novas, com espera limitada
	return c.readGroup(ctx, ">", c.readBlock)
}

func (c *Consumer) readGroup(ctx context.Context, position string, block time.Duration) ([]Event, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, position},
		Count:    c.readCount,
	}
	if block > 0 {
		args.Block = block
	}

	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var events []Event
	for _, s := range streams {
		events = append(events, toEvents(s.Messages)...)
	}
	return events, nil
}

// Ack confirma o processamento de entradas junto ao grupo de consumidores,
// removendo-as da lista de pendências
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack entries: %w", err)
	}
	return nil
}

func toEvents(messages []redis.XMessage) []Event {
	events := make([]Event, 0, len(messages))
	for _, message := range messages {
		events = append(events, Event{ID: message.ID, Values: message.Values})
	}
	return events
}
