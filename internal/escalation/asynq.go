package escalation

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const TaskEscalationStep = "escalation.step"

func NewEscalationTask(job Job) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEscalationStep, data), nil
}

func ParseEscalationTask(task *asynq.Task) (Job, error) {
	var job Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return Job{}, err
	}
	if job.ID == "" || job.WorkItemID == "" {
		return Job{}, errors.New("escalation: task payload missing ids")
	}
	return job, nil
}

// RedisClientOpt converts a redis URL (redis:// or rediss://) into asynq options.
func RedisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

// AsynqTimers is a durable TimerQueue: each job is an asynq task scheduled with
// ProcessAt and keyed by TaskID = job id, so Cancel can delete it.
type AsynqTimers struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

func NewAsynqTimers(opt asynq.RedisConnOpt, queue string) *AsynqTimers {
	if queue == "" {
		queue = "escalations"
	}
	return &AsynqTimers{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queue,
	}
}

func (a *AsynqTimers) Schedule(ctx context.Context, job Job) error {
	task, err := NewEscalationTask(job)
	if err != nil {
		return err
	}
	_, err = a.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(job.FireAt),
		asynq.TaskID(job.ID),
		asynq.Queue(a.queue),
		asynq.MaxRetry(0),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("escalation: enqueue job: %w", err)
	}
	return nil
}

func (a *AsynqTimers) Cancel(ctx context.Context, jobID string) error {
	err := a.inspector.DeleteTask(a.queue, jobID)
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return fmt.Errorf("escalation: delete job: %w", err)
	}
	return nil
}

func (a *AsynqTimers) Close() error {
	return errors.Join(a.client.Close(), a.inspector.Close())
}

// Worker consumes escalation tasks and hands them to the scheduler.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	fire   FireFunc
	log    *slog.Logger
}

func NewWorker(opt asynq.RedisConnOpt, queue string, concurrency int, fire FireFunc, log *slog.Logger) *Worker {
	if queue == "" {
		queue = "escalations"
	}
	if concurrency < 1 {
		concurrency = 10
	}
	if log == nil {
		log = slog.Default()
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
	})
	w := &Worker{server: server, mux: asynq.NewServeMux(), fire: fire, log: log.With("component", "escalation_worker")}
	w.mux.HandleFunc(TaskEscalationStep, w.handleStep)
	return w
}

func (w *Worker) handleStep(ctx context.Context, task *asynq.Task) error {
	job, err := ParseEscalationTask(task)
	if err != nil {
		w.log.Error("bad escalation task", "err", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	w.fire(ctx, job)
	return nil
}

// Run processes tasks until ctx is cancelled, then shuts the server down.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("escalation worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
