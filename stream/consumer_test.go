package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// fakeRedisClient roteia as chamadas do consumidor para respostas
// pré-definidas, registrando os argumentos usados
type fakeRedisClient struct {
	groupErr error

	claimed  []redis.XMessage
	claimErr error

	backlog  []redis.XMessage
	fresh    []redis.XMessage
	freshErr error

	readArgs []*redis.XReadGroupArgs
	acked    []string
}

func (f *fakeRedisClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.groupErr != nil {
		cmd.SetErr(f.groupErr)
		return cmd
	}
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedisClient) XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	cmd := redis.NewXAutoClaimCmd(ctx)
	if f.claimErr != nil {
		cmd.SetErr(f.claimErr)
		return cmd
	}
	cmd.SetVal(f.claimed, "0-0")
	return cmd
}

func (f *fakeRedisClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.readArgs = append(f.readArgs, a)

	cmd := redis.NewXStreamSliceCmd(ctx)
	position := a.Streams[len(a.Streams)-1]
	if position == ">" {
		if f.freshErr != nil {
			cmd.SetErr(f.freshErr)
			return cmd
		}
		cmd.SetVal([]redis.XStream{{Stream: a.Streams[0], Messages: f.fresh}})
		return cmd
	}
	cmd.SetVal([]redis.XStream{{Stream: a.Streams[0], Messages: f.backlog}})
	return cmd
}

func (f *fakeRedisClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func newTestConsumer(client RedisClient) *Consumer {
	return NewConsumer(client, "store.public.store_api_order", "store_consumer_order", "consumer-1", StartFromBeginning)
}

func TestInitCreatesConsumerGroup(t *testing.T) {
	client := &fakeRedisClient{}
	consumer := newTestConsumer(client)

	err := consumer.Init(context.Background())

	assert.NoError(t, err)
}

func TestInitToleratesExistingGroup(t *testing.T) {
	client := &fakeRedisClient{groupErr: errors.New("BUSYGROUP Consumer Group name already exists")}
	consumer := newTestConsumer(client)

	err := consumer.Init(context.Background())

	assert.NoError(t, err)
}

func TestInitPropagatesOtherErrors(t *testing.T) {
	client := &fakeRedisClient{groupErr: errors.New("connection refused")}
	consumer := newTestConsumer(client)

	err := consumer.Init(context.Background())

	assert.Error(t, err)
}

func TestReadEventsReturnsClaimedEntriesFirst(t *testing.T) {
	// Arrange: há entradas abandonadas E backlog próprio; as abandonadas
	// têm prioridade e o backlog nem é consultado neste ciclo
	client := &fakeRedisClient{
		claimed: []redis.XMessage{{ID: "1-0", Values: map[string]interface{}{"value": "{}"}}},
		backlog: []redis.XMessage{{ID: "2-0", Values: map[string]interface{}{"value": "{}"}}},
	}
	consumer := newTestConsumer(client)
	session := NewSession()

	// Act
	events, err := consumer.ReadEvents(context.Background(), session)

	// Assert
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "1-0", events[0].ID)
	assert.Empty(t, client.readArgs)
	assert.True(t, session.Draining)
}

func TestReadEventsDrainsOwnBacklog(t *testing.T) {
	client := &fakeRedisClient{
		backlog: []redis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{"value": "{}"}},
			{ID: "2-0", Values: map[string]interface{}{"value": "{}"}},
		},
	}
	consumer := newTestConsumer(client)
	session := NewSession()

	events, err := consumer.ReadEvents(context.Background(), session)

	assert.NoError(t, err)
	assert.Len(t, events, 2)
	assert.True(t, session.Draining)
	if assert.Len(t, client.readArgs, 1) {
		assert.Equal(t, []string{"store.public.store_api_order", "0"}, client.readArgs[0].Streams)
		// a leitura do backlog não bloqueia
		assert.Zero(t, client.readArgs[0].Block)
	}
}

func TestReadEventsEmptyBacklogSwitchesToNewMessages(t *testing.T) {
	client := &fakeRedisClient{
		fresh: []redis.XMessage{{ID: "9-0", Values: map[string]interface{}{"value": "{}"}}},
	}
	consumer := newTestConsumer(client)
	session := NewSession()

	// primeira leitura encontra o backlog vazio e desliga o modo draining
	events, err := consumer.ReadEvents(context.Background(), session)
	assert.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, session.Draining)

	// a leitura seguinte passa a consumir mensagens novas, com bloqueio
	events, err = consumer.ReadEvents(context.Background(), session)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "9-0", events[0].ID)
	if assert.Len(t, client.readArgs, 2) {
		assert.Equal(t, []string{"store.public.store_api_order", ">"}, client.readArgs[1].Streams)
		assert.Equal(t, defaultReadBlock, client.readArgs[1].Block)
	}
}

func TestReadEventsNoNewMessages(t *testing.T) {
	// um read bloqueante que expira retorna redis.Nil, que não é erro
	client := &fakeRedisClient{freshErr: redis.Nil}
	consumer := newTestConsumer(client)
	session := &Session{Draining: false}

	events, err := consumer.ReadEvents(context.Background(), session)

	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadEventsClaimFailure(t *testing.T) {
	client := &fakeRedisClient{claimErr: errors.New("connection reset")}
	consumer := newTestConsumer(client)

	events, err := consumer.ReadEvents(context.Background(), NewSession())

	assert.Error(t, err)
	assert.Empty(t, events)
}

func TestAck(t *testing.T) {
	client := &fakeRedisClient{}
	consumer := newTestConsumer(client)

	err := consumer.Ack(context.Background(), "1-0", "2-0")

	assert.NoError(t, err)
	assert.Equal(t, []string{"1-0", "2-0"}, client.acked)
}
