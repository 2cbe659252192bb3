package events

import (
	"context"
	"sync"
)

const defaultBuffer = 64

// Bus 按 topic（研究 id）管理订阅者。由调用方创建并在退出时 Close，不使用全局状态
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	buffer int
	closed bool
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once

	// 保护 ch 的关闭与发送不并发
	mu     sync.RWMutex
	closed bool
}

func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Bus{
		topics: make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
	}
}

// send 不阻塞：缓冲已满返回 false
func (s *subscriber) send(e Event) (delivered, full bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- e:
		return true, false
	default:
		return false, true
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Subscribe 注册订阅，返回事件流与取消函数。
// 注册前先放入 connected 事件，保证它先于任何数据事件。
// ctx 结束或调用取消函数后，通道被关闭，订阅者被移除；topic 无订阅者时一并删除。
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	sub := &subscriber{
		ch:   make(chan Event, b.buffer),
		done: make(chan struct{}),
	}
	sub.ch <- Connected(topic)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.topics[topic] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.remove(topic, sub)
		case <-sub.done:
		}
	}()

	return sub.ch, func() { b.remove(topic, sub) }
}

// SubscribeFunc 回调形式的订阅，回调在独立 goroutine 中按顺序执行
func (b *Bus) SubscribeFunc(topic string, fn func(Event)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe := b.Subscribe(ctx, topic)
	go func() {
		for e := range ch {
			fn(e)
		}
	}()
	return func() {
		cancel()
		unsubscribe()
	}
}

// Publish 投递给 topic 当前的全部订阅者，返回成功投递数。
// 从不阻塞：缓冲已满的订阅者被移除并关闭通道，由其改用快照接口补齐进度。
func (b *Bus) Publish(topic string, e Event) int {
	b.mu.RLock()
	set := b.topics[topic]
	subs := make([]*subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		ok, full := sub.send(e)
		if ok {
			delivered++
		}
		if full {
			b.remove(topic, sub)
		}
	}
	return delivered
}

func (b *Bus) remove(topic string, sub *subscriber) {
	b.mu.Lock()
	if set, ok := b.topics[topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.topics, topic)
		}
	}
	b.mu.Unlock()
	sub.close()
}

func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// Close 关闭全部订阅，之后的 Subscribe 立即返回已关闭的通道
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*subscriber
	for _, set := range b.topics {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	b.topics = make(map[string]map[*subscriber]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
