package submit

import "context"

// Future 异步任务结果
type Future[R any] struct {
	done   chan struct{}
	result R
	err    error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) complete(result R, err error) {
	f.result, f.err = result, err
	close(f.done)
}

// Done 任务完成时关闭
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Wait 等待任务结果, ctx 结束时返回 ctx 的错误
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
