package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType 事件类型
type EventType string

const (
	EventSubAgentSpawn     EventType = "subagent_spawn"
	EventSubAgentCompleted EventType = "subagent_completed"
)

const defaultBufferSize = 100

// Event 事件接口
type Event interface {
	Timestamp() time.Time
	Type() EventType
}

// Handler 事件处理器
type Handler func(Event)

// Bus 定义事件总线接口
type Bus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler Handler) string
	Unsubscribe(subscriptionID string)
	Stop()
}

// Message 通用事件，供外部发布者携带任意数据
type Message struct {
	Kind       EventType
	Data       map[string]any
	Timestamp_ time.Time
}

// NewMessage 创建通用事件
func NewMessage(kind EventType, data map[string]any) *Message {
	return &Message{Kind: kind, Data: data, Timestamp_: time.Now()}
}

func (m *Message) Timestamp() time.Time { return m.Timestamp_ }
func (m *Message) Type() EventType      { return m.Kind }

// Option 事件总线选项
type Option func(*SimpleBus)

// WithBufferSize 设置事件缓冲区大小
func WithBufferSize(n int) Option {
	return func(b *SimpleBus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l *zap.Logger) Option {
	return func(b *SimpleBus) {
		if l != nil {
			b.logger = l
		}
	}
}

// SimpleBus 进程内事件总线
// 发布非阻塞，缓冲区满时丢弃事件；每个处理器在独立 goroutine 中运行
type SimpleBus struct {
	mu         sync.RWMutex
	handlers   map[EventType]map[string]Handler
	events     chan Event
	done       chan struct{}
	stopOnce   sync.Once
	bufferSize int
	nextID     atomic.Int64
	dropped    atomic.Int64
	logger     *zap.Logger
}

// New 创建并启动事件总线
func New(opts ...Option) *SimpleBus {
	b := &SimpleBus{
		handlers:   make(map[EventType]map[string]Handler),
		done:       make(chan struct{}),
		bufferSize: defaultBufferSize,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.events = make(chan Event, b.bufferSize)
	b.logger = b.logger.With(zap.String("component", "event_bus"))
	go b.processEvents()
	return b
}

// Publish 发布事件
func (b *SimpleBus) Publish(event Event) {
	if event == nil {
		return
	}
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.events <- event:
	case <-b.done:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event buffer full, dropping event", zap.String("type", string(event.Type())))
	}
}

// Subscribe 订阅事件，返回订阅 ID
func (b *SimpleBus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	id := fmt.Sprintf("%s-%d", eventType, b.nextID.Add(1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe 取消订阅，未知 ID 忽略
func (b *SimpleBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

// SubscriberCount 返回某类事件的订阅者数量
func (b *SimpleBus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Dropped 返回因缓冲区满被丢弃的事件数
func (b *SimpleBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *SimpleBus) processEvents() {
	for {
		select {
		case event := <-b.events:
			b.mu.RLock()
			src := b.handlers[event.Type()]
			handlers := make([]Handler, 0, len(src))
			for _, h := range src {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, h := range handlers {
				go func() {
					defer func() {
						if r := recover(); r != nil {
							b.logger.Error("event handler panicked",
								zap.String("type", string(event.Type())),
								zap.Any("recover", r),
							)
						}
					}()
					h(event)
				}()
			}
		case <-b.done:
			return
		}
	}
}

// Stop 停止事件总线，可重复调用
func (b *SimpleBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
