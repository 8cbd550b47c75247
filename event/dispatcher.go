// event/dispatcher.go
package event

import (
	"errors"
	"sync"

	"github.com/ApocalypseJiaWei/go_dblib/logger"
	"github.com/ApocalypseJiaWei/go_dblib/model"
	"github.com/panjf2000/ants/v2"
)

// Wildcard 监听所有事件
const Wildcard = "*"

type EventListener func(event model.Event)

// EventDispatcher 在 ants 协程池上异步分发连接池事件
type EventDispatcher struct {
	pool      *ants.Pool
	listeners map[string][]EventListener
	mu        sync.RWMutex
	wg        sync.WaitGroup
	log       logger.Logger
}

func NewDispatcher(poolSize int, log logger.Logger) (*EventDispatcher, error) {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	ed := &EventDispatcher{
		listeners: make(map[string][]EventListener),
		log:       log,
	}
	pool, err := ants.NewPool(poolSize,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			ed.log.Error("Event listener panicked", "panic", v)
		}),
	)
	if err != nil {
		return nil, err
	}
	ed.pool = pool
	return ed, nil
}

func (ed *EventDispatcher) Register(eventName string, listener EventListener) {
	if listener == nil {
		return
	}
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.listeners[eventName] = append(ed.listeners[eventName], listener)
}

// Dispatch 分发事件, 协程池繁忙时在调用方协程中执行
func (ed *EventDispatcher) Dispatch(event model.Event) {
	ed.wg.Add(1)
	err := ed.pool.Submit(func() {
		defer ed.wg.Done()
		ed.deliver(event)
	})
	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload):
		defer ed.wg.Done()
		ed.deliver(event)
	default:
		ed.wg.Done()
		ed.log.Debug("Event dropped", "event", event.Name, "error", err)
	}
}

func (ed *EventDispatcher) deliver(event model.Event) {
	ed.mu.RLock()
	all := append([]EventListener(nil), ed.listeners[Wildcard]...)
	all = append(all, ed.listeners[event.Name]...)
	ed.mu.RUnlock()

	for _, listener := range all {
		listener(event)
	}
}

// Wait 等待已分发的事件处理完成
func (ed *EventDispatcher) Wait() {
	ed.wg.Wait()
}

// Close 处理完剩余事件后释放协程池
func (ed *EventDispatcher) Close() {
	ed.wg.Wait()
	ed.pool.Release()
}
