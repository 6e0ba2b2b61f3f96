package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishSubscribe(t *testing.T) {
	topicKey := NewTopicKey[string]("test.publish")

	got := make(chan string, 1)
	Subscribe(topicKey, func(_ context.Context, payload string) {
		got <- payload
	}, "test-listener")
	defer Unsubscribe[string](topicKey, "test-listener")

	NewPublish[string](topicKey)(context.Background(), "hello")

	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}
