package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskStep is the asynq task type of one batch invocation.
const TaskStep = "batch:step"

// Job describes a queued run. Params carry whatever the kind's builder
// needs to recreate its parser in a worker.
type Job struct {
	ID     string            `json:"id"`
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

type payload struct {
	Job   Job             `json:"job"`
	State json.RawMessage `json:"state,omitempty"`
}

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Builder recreates the parser of a job.
type Builder[T, R any] func(ctx context.Context, job Job) (Parser[T, R], error)

// Finisher is called once when a queued run ends. err is nil after the last
// successful step, otherwise the failure that ended the run; st is nil when
// the failure came before the state was available.
type Finisher[R any] func(ctx context.Context, job Job, st *State[R], err error) error

type stepFunc func(ctx context.Context, job Job, state json.RawMessage) (json.RawMessage, Progress, error)

// Queue runs batch jobs as a chain of asynq tasks: each task performs one
// Step and enqueues the next with the updated state until the run is done.
type Queue struct {
	client   Enqueuer
	progress ProgressStore
	queue    string
	logger   *slog.Logger
	steps    map[string]stepFunc
	aborts   map[string]func(ctx context.Context, job Job, err error)
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueName sets the asynq queue tasks are enqueued on.
func WithQueueName(name string) QueueOption {
	return func(q *Queue) {
		if name != "" {
			q.queue = name
		}
	}
}

// WithQueueLogger sets the queue's logger.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueue creates a queue driver.
func NewQueue(client Enqueuer, progress ProgressStore, opts ...QueueOption) *Queue {
	q := &Queue{
		client:   client,
		progress: progress,
		queue:    "default",
		logger:   slog.Default(),
		steps:    make(map[string]stepFunc),
		aborts:   make(map[string]func(ctx context.Context, job Job, err error)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register adds a job kind to q. build recreates the parser for every task;
// finish, when set, runs once when the run ends, whether it completed or
// failed.
func Register[T, R any](q *Queue, kind string, build Builder[T, R], finish Finisher[R], opts Options) {
	if opts.Name == "" {
		opts.Name = kind
	}
	abort := func(ctx context.Context, job Job, st *State[R], runErr error) {
		if finish == nil {
			return
		}
		if err := finish(ctx, job, st, runErr); err != nil {
			q.logger.Error("finish failed run", "batch_id", job.ID, "kind", kind, "error", err)
		}
	}
	q.aborts[kind] = func(ctx context.Context, job Job, err error) { abort(ctx, job, nil, err) }

	q.steps[kind] = func(ctx context.Context, job Job, raw json.RawMessage) (json.RawMessage, Progress, error) {
		p, err := build(ctx, job)
		if err != nil {
			err = fmt.Errorf("build %s parser: %w", kind, err)
			abort(ctx, job, nil, err)
			return nil, Progress{}, err
		}

		var st *State[R]
		if len(raw) == 0 {
			st = NewState[R](p.ItemCount())
		} else {
			st = &State[R]{}
			if err := json.Unmarshal(raw, st); err != nil {
				err = fmt.Errorf("decode state: %w", err)
				abort(ctx, job, nil, err)
				return nil, Progress{}, err
			}
		}

		stepOpts := opts
		stepOpts.Logger = q.logger.With("batch_id", job.ID, "parser", kind)
		if err := Step(ctx, p, st, stepOpts); err != nil {
			abort(ctx, job, st, err)
			return nil, Snapshot(job.ID, kind, st), err
		}
		if st.Done && finish != nil {
			if err := finish(ctx, job, st, nil); err != nil {
				return nil, Snapshot(job.ID, kind, st), fmt.Errorf("finish: %w", err)
			}
		}

		next, err := json.Marshal(st)
		if err != nil {
			return nil, Progress{}, fmt.Errorf("encode state: %w", err)
		}
		return next, Snapshot(job.ID, kind, st), nil
	}
}

// Enqueue starts a run of job and returns its batch id.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	if _, ok := q.steps[job.Kind]; !ok {
		return "", fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if err := q.progress.Save(ctx, Progress{ID: job.ID, Kind: job.Kind}); err != nil {
		return "", err
	}
	if err := q.enqueue(ctx, payload{Job: job}); err != nil {
		return "", err
	}
	q.logger.Info("batch queued", "batch_id", job.ID, "kind", job.Kind)
	return job.ID, nil
}

func (q *Queue) enqueue(ctx context.Context, p payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	task := asynq.NewTask(TaskStep, b)
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(q.queue), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue %s: %w", p.Job.ID, err)
	}
	return nil
}

// Handle performs one step of a queued run. A failed step ends the run;
// the task is not retried since the items before the failure were already
// processed.
func (q *Queue) Handle(ctx context.Context, task *asynq.Task) error {
	var p payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode task: %v: %w", err, asynq.SkipRetry)
	}
	step, ok := q.steps[p.Job.Kind]
	if !ok {
		return fmt.Errorf("unknown job kind %q: %w", p.Job.Kind, asynq.SkipRetry)
	}

	next, progress, err := step(ctx, p.Job, p.State)
	if err != nil {
		progress.ID, progress.Kind = p.Job.ID, p.Job.Kind
		progress.Error = err.Error()
		progress.Done = true
		if serr := q.progress.Save(ctx, progress); serr != nil {
			q.logger.Error("save progress failed", "batch_id", p.Job.ID, "error", serr)
		}
		q.logger.Error("batch run failed", "batch_id", p.Job.ID, "kind", p.Job.Kind, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := q.progress.Save(ctx, progress); err != nil {
		if !progress.Done {
			q.aborts[p.Job.Kind](ctx, p.Job, err)
		}
		return fmt.Errorf("save progress: %v: %w", err, asynq.SkipRetry)
	}
	if progress.Done {
		q.logger.Info("batch finished",
			"batch_id", p.Job.ID,
			"kind", p.Job.Kind,
			"succeeded", progress.Succeeded,
			"failed", progress.Failed,
		)
		return nil
	}
	if err := q.enqueue(ctx, payload{Job: p.Job, State: next}); err != nil {
		q.aborts[p.Job.Kind](ctx, p.Job, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// Progress returns the latest snapshot of a run.
func (q *Queue) Progress(ctx context.Context, id string) (Progress, error) {
	return q.progress.Get(ctx, id)
}

// RegisterHandlers installs the step handler on an asynq mux.
func (q *Queue) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskStep, q.Handle)
}
