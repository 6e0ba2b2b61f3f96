package event

import (
	"context"
	"sync"

	"github.com/maniartech/signals"
)

type Kind string

type TopicKey[T any] interface {
	Name() Kind
}

type topicKey[T any] struct {
	name Kind
}

func (t topicKey[T]) Name() Kind {
	return t.name
}

func NewTopicKey[T any](name Kind) TopicKey[T] {
	return topicKey[T]{name: name}
}

var (
	subscribers = make(map[Kind]*signals.AsyncSignal[any])
	lock        sync.RWMutex
)

func topic(name Kind) *signals.AsyncSignal[any] {
	if s, ok := subscribers[name]; ok {
		return s
	}
	sig := signals.New[any]()
	subscribers[name] = sig
	return sig
}

// NewPublish returns an emitter for topic. Listeners run asynchronously.
func NewPublish[T any](key TopicKey[T]) func(ctx context.Context, payload T) {
	lock.Lock()
	sig := topic(key.Name())
	lock.Unlock()

	return func(ctx context.Context, payload T) {
		sig.Emit(ctx, payload)
	}
}

// Subscribe registers handler on topic under an optional listener id, which
// Unsubscribe uses to remove it again.
func Subscribe[T any](key TopicKey[T], handler func(ctx context.Context, payload T), id ...string) {
	lock.Lock()
	sig := topic(key.Name())
	lock.Unlock()

	sig.AddListener(func(ctx context.Context, payload any) {
		if v, ok := payload.(T); ok {
			handler(ctx, v)
		}
	}, id...)
}

// Unsubscribe removes the listener registered with id.
func Unsubscribe[T any](key TopicKey[T], id string) {
	lock.Lock()
	defer lock.Unlock()

	if sig, ok := subscribers[key.Name()]; ok {
		sig.RemoveListener(id)
	}
}
