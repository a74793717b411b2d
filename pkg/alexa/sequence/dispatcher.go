// Package sequence batches device commands submitted within a short window
// into one instruction tree and posts it to the behaviors endpoint.
package sequence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/asnowfix/myecho/hlog"
	"github.com/asnowfix/myecho/internal/metrics"
	"github.com/asnowfix/myecho/pkg/alexa/ratelimit"
	"github.com/asnowfix/myecho/pkg/alexa/types"
	"github.com/go-logr/logr"
)

const (
	DefaultWindow = 1500 * time.Millisecond
	PreviewPath   = "/api/behaviors/preview"
)

// Poster posts a JSON body; *request.Executor is one.
type Poster interface {
	PostJSON(ctx context.Context, path string, body any, out any) error
}

// Behavior is the body of a preview post.
type Behavior struct {
	BehaviorID   string `json:"behaviorId"`
	SequenceJSON string `json:"sequenceJson"`
	Status       string `json:"status"`
}

// Dispatcher holds the pending command queue of one account.
type Dispatcher struct {
	poster     Poster
	account    string
	window     time.Duration
	limiter    *ratelimit.Limiter
	customerID func() string

	mu         sync.Mutex
	queue      []types.Node
	generation uint64
}

type Option func(*Dispatcher)

func WithWindow(d time.Duration) Option {
	return func(s *Dispatcher) {
		s.window = d
	}
}

// WithLimiter spaces the posts of the account.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Dispatcher) {
		s.limiter = l
	}
}

// WithCustomerID supplies the customer id for devices without an owner.
func WithCustomerID(fn func() string) Option {
	return func(s *Dispatcher) {
		s.customerID = fn
	}
}

func New(p Poster, account string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		poster:     p,
		account:    account,
		window:     DefaultWindow,
		customerID: func() string { return "" },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Window() time.Duration {
	return d.window
}

// Pending is the number of queued nodes.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Submit queues nodes for dev with the configured window.
func (d *Dispatcher) Submit(ctx context.Context, dev types.Device, nodes ...types.Node) error {
	return d.SubmitAfter(ctx, d.window, dev, nodes...)
}

// SubmitAfter queues nodes for dev and waits window. If nothing was queued
// meanwhile, the caller flushes the whole queue as one tree and gets the
// post error, if any; otherwise it returns nil and a later caller flushes.
// A window <= 0 posts nodes immediately on their own.
func (d *Dispatcher) SubmitAfter(ctx context.Context, window time.Duration, dev types.Device, nodes ...types.Node) error {
	log := logr.FromContextOrDiscard(ctx).WithName("sequence").WithValues("device", hlog.HideSerial(dev.SerialNumber))
	ctx = logr.NewContext(ctx, log)

	if len(nodes) == 0 {
		return nil
	}
	resolved := make([]types.Node, len(nodes))
	for i, n := range nodes {
		resolved[i] = Resolve(n, dev, d.customerID())
	}
	if window <= 0 {
		return d.post(ctx, resolved)
	}

	d.mu.Lock()
	d.queue = append(d.queue, resolved...)
	d.generation++
	gen, length := d.generation, len(d.queue)
	d.mu.Unlock()

	timer := time.NewTimer(window)
	select {
	case <-ctx.Done():
		timer.Stop()
		log.V(1).Info("Batch wait canceled, nodes stay queued", "error", ctx.Err())
		return nil
	case <-timer.C:
	}

	d.mu.Lock()
	if d.generation != gen || len(d.queue) != length {
		d.mu.Unlock()
		log.V(1).Info("Queue changed during wait, deferring flush")
		return nil
	}
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()

	return d.post(ctx, batch)
}

func (d *Dispatcher) post(ctx context.Context, batch []types.Node) error {
	log := logr.FromContextOrDiscard(ctx)

	if err := d.limiter.Wait(ctx, d.account); err != nil {
		return err
	}
	tree := Tree(batch)
	seq, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("sequence: encode tree: %w", err)
	}
	metrics.BatchNodes.Observe(float64(len(batch)))
	log.V(1).Info("Posting instruction tree", "nodes", len(batch), "parallel", Parallel(batch))

	body := Behavior{BehaviorID: "PREVIEW", SequenceJSON: string(seq), Status: "ENABLED"}
	if err := d.poster.PostJSON(ctx, PreviewPath, body, nil); err != nil {
		return fmt.Errorf("sequence: post %d nodes: %w", len(batch), err)
	}
	return nil
}
