// Package metrics aggregates delivery and engagement events into per-flow,
// per-channel and per-step statistics.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// Snapshot summarizes one aggregation key. Rates follow the funnel: open rate
// over delivered, click rate over opened. Zero denominators yield zero rates.
type Snapshot struct {
	Sent         int64   `json:"sent"`
	Delivered    int64   `json:"delivered"`
	Opened       int64   `json:"opened"`
	Clicked      int64   `json:"clicked"`
	Cost         float64 `json:"cost"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	CostPerClick float64 `json:"cost_per_click"`
}

type counters struct {
	sent      int64
	delivered int64
	opened    int64
	clicked   int64
	cost      float64
}

func (c *counters) snapshot() Snapshot {
	s := Snapshot{
		Sent:      c.sent,
		Delivered: c.delivered,
		Opened:    c.opened,
		Clicked:   c.clicked,
		Cost:      c.cost,
	}

	if c.delivered > 0 {
		s.OpenRate = float64(c.opened) / float64(c.delivered)
	}

	if c.opened > 0 {
		s.ClickRate = float64(c.clicked) / float64(c.opened)
	}

	if c.clicked > 0 {
		s.CostPerClick = c.cost / float64(c.clicked)
	}

	return s
}

// Aggregator maintains monotonic counters keyed by flow, channel and step. It
// is a pure function of the append-only attempt/event log: discarding it and
// replaying the log yields identical snapshots.
type Aggregator struct {
	mu        sync.RWMutex
	global    counters
	byFlow    map[string]*counters
	byChannel map[models.Channel]*counters
	byStep    map[string]*counters // flowID + "/" + stepID

	promSent      *prometheus.CounterVec
	promDelivered *prometheus.CounterVec
	promOpened    *prometheus.CounterVec
	promClicked   *prometheus.CounterVec
	promCost      *prometheus.CounterVec
}

// NewAggregator creates an aggregator and registers its Prometheus collectors
// with the given registerer.
func NewAggregator(reg prometheus.Registerer) *Aggregator {
	a := &Aggregator{
		byFlow:    make(map[string]*counters),
		byChannel: make(map[models.Channel]*counters),
		byStep:    make(map[string]*counters),
		promSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealdrip_messages_sent_total",
			Help: "Messages accepted by a channel provider.",
		}, []string{"flow_id", "channel"}),
		promDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealdrip_messages_delivered_total",
			Help: "Messages confirmed delivered.",
		}, []string{"flow_id", "channel"}),
		promOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealdrip_messages_opened_total",
			Help: "Open engagement events.",
		}, []string{"flow_id", "channel"}),
		promClicked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealdrip_messages_clicked_total",
			Help: "Click engagement events.",
		}, []string{"flow_id", "channel"}),
		promCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealdrip_delivery_cost_total",
			Help: "Accumulated delivery cost.",
		}, []string{"flow_id", "channel"}),
	}

	if reg != nil {
		reg.MustRegister(a.promSent, a.promDelivered, a.promOpened, a.promClicked, a.promCost)
	}

	return a
}

func (a *Aggregator) keys(flowID string, channel models.Channel, stepID string) []*counters {
	targets := []*counters{&a.global}

	if flowID != "" {
		c, ok := a.byFlow[flowID]
		if !ok {
			c = &counters{}
			a.byFlow[flowID] = c
		}

		targets = append(targets, c)
	}

	if channel != "" {
		c, ok := a.byChannel[channel]
		if !ok {
			c = &counters{}
			a.byChannel[channel] = c
		}

		targets = append(targets, c)
	}

	if stepID != "" {
		key := flowID + "/" + stepID

		c, ok := a.byStep[key]
		if !ok {
			c = &counters{}
			a.byStep[key] = c
		}

		targets = append(targets, c)
	}

	return targets
}

// RecordAttempt folds one delivery attempt into the counters.
func (a *Aggregator) RecordAttempt(attempt *models.DeliveryAttempt) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range a.keys(attempt.FlowID, attempt.Channel, attempt.StepID) {
		switch attempt.Outcome {
		case models.OutcomeSent:
			c.sent++
			c.cost += attempt.Cost
		case models.OutcomeDelivered:
			c.delivered++
		case models.OutcomeBounced, models.OutcomeFailed:
			// Tracked in the audit log; no funnel counter moves.
		}
	}

	labels := prometheus.Labels{"flow_id": attempt.FlowID, "channel": string(attempt.Channel)}

	switch attempt.Outcome {
	case models.OutcomeSent:
		a.promSent.With(labels).Inc()
		a.promCost.With(labels).Add(attempt.Cost)
	case models.OutcomeDelivered:
		a.promDelivered.With(labels).Inc()
	case models.OutcomeBounced, models.OutcomeFailed:
	}
}

// RecordEngagement folds one open/click event into the counters.
func (a *Aggregator) RecordEngagement(event *models.EngagementEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range a.keys(event.FlowID, event.Channel, "") {
		switch event.Type {
		case models.EngagementOpened:
			c.opened++
		case models.EngagementClicked:
			c.clicked++
		}
	}

	labels := prometheus.Labels{"flow_id": event.FlowID, "channel": string(event.Channel)}

	switch event.Type {
	case models.EngagementOpened:
		a.promOpened.With(labels).Inc()
	case models.EngagementClicked:
		a.promClicked.With(labels).Inc()
	}
}

// FlowSnapshot returns the rollup for one flow.
func (a *Aggregator) FlowSnapshot(flowID string) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	c, ok := a.byFlow[flowID]
	if !ok {
		return Snapshot{}
	}

	return c.snapshot()
}

// ChannelSnapshot returns the rollup for one channel.
func (a *Aggregator) ChannelSnapshot(channel models.Channel) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	c, ok := a.byChannel[channel]
	if !ok {
		return Snapshot{}
	}

	return c.snapshot()
}

// StepSnapshot returns the rollup for one step of a flow.
func (a *Aggregator) StepSnapshot(flowID, stepID string) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	c, ok := a.byStep[flowID+"/"+stepID]
	if !ok {
		return Snapshot{}
	}

	return c.snapshot()
}

// GlobalSnapshot returns the rollup across all flows and channels.
func (a *Aggregator) GlobalSnapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.global.snapshot()
}

// Rebuild resets the counters and replays the append-only logs. The resulting
// snapshots are identical to those produced by incremental recording. Intended
// for startup on a freshly constructed aggregator: Prometheus counters are
// monotonic and are not reset.
func (a *Aggregator) Rebuild(ctx context.Context, attempts persistence.AttemptRepository, engagements persistence.EngagementRepository) error {
	attemptLog, err := attempts.List(ctx)
	if err != nil {
		return err
	}

	eventLog, err := engagements.List(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.global = counters{}
	a.byFlow = make(map[string]*counters)
	a.byChannel = make(map[models.Channel]*counters)
	a.byStep = make(map[string]*counters)
	a.mu.Unlock()

	for _, attempt := range attemptLog {
		a.RecordAttempt(attempt)
	}

	for _, event := range eventLog {
		a.RecordEngagement(event)
	}

	return nil
}
