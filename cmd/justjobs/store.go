package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/albachteng/justjobs/internal/broker"
	"github.com/albachteng/justjobs/internal/manager"
	"github.com/albachteng/justjobs/internal/queue"
)

// openBroker connects to the configured store without starting any worker.
// The caller closes the returned store.
func (a *app) openBroker(ctx context.Context, queueName string) (*broker.Broker, queue.Store, error) {
	if !slices.Contains(a.cfg.Queues, queueName) {
		return nil, nil, fmt.Errorf("queue %q is not configured (queues: %v)", queueName, a.cfg.Queues)
	}
	c, err := a.codec()
	if err != nil {
		return nil, nil, err
	}
	mcfg, err := a.cfg.Manager()
	if err != nil {
		return nil, nil, err
	}
	// enqueued payloads would vanish with this process
	if mcfg.Store.ProcessLocal() {
		return nil, nil, fmt.Errorf("%w: %s", manager.ErrProcessLocalStore, mcfg.Store.URL)
	}
	store, err := queue.Open(ctx, mcfg.Store)
	if err != nil {
		return nil, nil, err
	}
	b := broker.New(store, c, nil, broker.Config{
		PollTimeout:   mcfg.PollTimeout,
		FailurePolicy: mcfg.FailurePolicy,
	}, a.logger)
	return b, store, nil
}
