package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	deliveryDomain "github.com/davicafu/outboxlab/internal/delivery/domain"
	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
	userDomain "github.com/davicafu/outboxlab/internal/user/domain"
	"github.com/davicafu/outboxlab/tests/mocks"
)

func registeredMessage(t *testing.T, withHeaders bool) (deliveryDomain.Message, *userDomain.User) {
	t.Helper()
	u, err := userDomain.NewUser("ana@example.com", "Ana", time.Now())
	require.NoError(t, err)
	evt := userDomain.NewUserRegisteredEvent(u)
	value, err := json.Marshal(evt)
	require.NoError(t, err)

	msg := deliveryDomain.Message{Topic: userDomain.UserTopic, Key: []byte(u.ID.String()), Value: value}
	if withHeaders {
		msg.Headers = []outboxDomain.Header{
			{Key: outboxDomain.HeaderEventID, Value: []byte(evt.EventID)},
			{Key: outboxDomain.HeaderEventType, Value: []byte(evt.EventType)},
		}
	}
	return msg, u
}

func TestUserConsumer_ProjectsRegisteredUser(t *testing.T) {
	for _, withHeaders := range []bool{true, false} {
		cache := mocks.NewDummyCache()
		msg, u := registeredMessage(t, withHeaders)

		require.NoError(t, NewUserConsumer(cache, zap.NewNop()).Handle(context.Background(), msg))

		var got userDomain.User
		hit, err := cache.Get(context.Background(), userDomain.CacheKeyByID(u.ID), &got)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, u.Email, got.Email)
	}
}

func TestUserConsumer_UnknownTypeIsIgnored(t *testing.T) {
	msg := deliveryDomain.Message{
		Topic:   userDomain.UserTopic,
		Value:   []byte(`{}`),
		Headers: []outboxDomain.Header{{Key: outboxDomain.HeaderEventType, Value: []byte("user.renamed")}},
	}
	assert.NoError(t, NewUserConsumer(mocks.NewDummyCache(), zap.NewNop()).Handle(context.Background(), msg))
}

func TestUserConsumer_MalformedIsPermanent(t *testing.T) {
	msg := deliveryDomain.Message{Topic: userDomain.UserTopic, Value: []byte(`not json`)}

	err := NewUserConsumer(mocks.NewDummyCache(), zap.NewNop()).Handle(context.Background(), msg)
	assert.True(t, deliveryDomain.IsPermanent(err))
	assert.ErrorIs(t, err, deliveryDomain.ErrMalformedMessage)
}
