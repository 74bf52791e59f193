package wire

import tomb "gopkg.in/tomb.v2"

// WorkerFunction processes one task handed to the pool. Implementations
// must return promptly on t.Dying() — a worker that blocks past shutdown
// holds up the whole tomb.
type WorkerFunction func(t *tomb.Tomb, task any) error

// WorkerPool is a fixed-size pool of goroutines draining a shared task
// channel, generalized from the teacher's root-level worker pool
// (originally internal/worker.go) to live under internal/wire alongside
// the TCP gateway that is its only caller.
type WorkerPool struct {
	n     int
	tasks chan any
	work  WorkerFunction
}

// NewWorkerPool creates a pool of size workers sharing one task queue.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		n:     size,
		tasks: make(chan any, size*4),
	}
}

// AddTask enqueues a task for some idle worker to pick up.
func (p *WorkerPool) AddTask(task any) {
	p.tasks <- task
}

// Setup spawns the pool's workers under t, each running work against
// tasks pulled off the shared queue until t dies.
func (p *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	p.work = work
	for i := 0; i < p.n; i++ {
		t.Go(func() error {
			return p.worker(t)
		})
	}
}

func (p *WorkerPool) worker(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := p.work(t, task); err != nil {
				return err
			}
		}
	}
}
