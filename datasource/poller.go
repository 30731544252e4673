// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datasource

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/openstack-archive/congress-sub001/config"
	"github.com/openstack-archive/congress-sub001/logging"
	"github.com/openstack-archive/congress-sub001/metrics"
	"github.com/openstack-archive/congress-sub001/util"
)

const minRetryDelay = time.Millisecond * 100

// Poller periodically fetches table snapshots from a driver and hands them
// to a receiver. Polling backs off exponentially while the driver fails.
type Poller struct {
	name     string
	interval time.Duration
	maxDelay time.Duration
	driver   Driver
	recv     Receiver
	limiter  *rate.Limiter
	logger   logging.Logger
	metrics  metrics.Metrics
	stop     chan chan struct{}
	polled   chan struct{}
}

// NewPoller returns a poller for the data source described by c.
func NewPoller(c config.DataSourceConfig, driver Driver, recv Receiver) *Poller {
	interval := c.Interval()
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	r := c.Rate
	if r <= 0 {
		r = config.DefaultPollRate
	}
	return &Poller{
		name:     c.Name,
		interval: interval,
		maxDelay: config.DefaultMaxRetryDelay,
		driver:   driver,
		recv:     recv,
		limiter:  rate.NewLimiter(rate.Limit(r), 1),
		logger:   logging.NewNoOpLogger(),
		metrics:  metrics.NoOp(),
		stop:     make(chan chan struct{}),
	}
}

// WithLogger sets the logger of the poller.
func (p *Poller) WithLogger(logger logging.Logger) *Poller {
	p.logger = logger.WithFields(map[string]interface{}{"datasource": p.name})
	return p
}

// WithMetrics sets the metrics the poller records into.
func (p *Poller) WithMetrics(m metrics.Metrics) *Poller {
	p.metrics = m
	return p
}

// withPolled makes the poller signal on ch after each poll unless ch is
// full.
func (p *Poller) withPolled(ch chan struct{}) *Poller {
	p.polled = ch
	return p
}

// Start starts polling in the background.
func (p *Poller) Start(context.Context) {
	go p.loop()
}

// Stop stops polling and waits for the background loop to exit.
func (p *Poller) Stop(context.Context) {
	done := make(chan struct{})
	p.stop <- done
	<-done
}

func (p *Poller) loop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var retry int

	for {
		err := p.limiter.Wait(ctx)
		if err == nil {
			err = p.Poll(ctx)
		}

		var delay time.Duration
		if err != nil {
			p.metrics.Counter(metrics.DataSourceErrors).Incr()
			p.logger.Error("Poll failed: %v.", err)
			retry++
			delay = util.DefaultBackoff(float64(minRetryDelay), float64(p.maxDelay), retry)
		} else {
			retry = 0
			delay = p.interval
		}

		if p.polled != nil {
			select {
			case p.polled <- struct{}{}:
			default:
			}
		}

		p.logger.Debug("Waiting %v before next poll.", delay)
		timer := time.NewTimer(delay)

		select {
		case <-timer.C:
		case done := <-p.stop:
			timer.Stop()
			cancel()
			done <- struct{}{}
			return
		}
	}
}

// Poll fetches one snapshot of every table and passes each table to the
// receiver, in table name order.
func (p *Poller) Poll(ctx context.Context) error {
	var tables map[string][]Row
	err := metrics.Timed(p.metrics, metrics.DataSourcePoll, func() error {
		var err error
		tables, err = p.driver.Poll(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("datasource %v: %w", p.name, err)
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := p.recv.ReceiveData(ctx, p.name, name, NewSnapshot(tables[name])); err != nil {
			return fmt.Errorf("datasource %v: table %v: %w", p.name, name, err)
		}
	}

	p.logger.WithFields(map[string]interface{}{"tables": len(names)}).Debug("Poll complete.")
	return nil
}
