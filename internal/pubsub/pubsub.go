// Package pubsub is the fanout channel carrying rollup updates to live
// subscribers. The rollup worker is the only producer in this service;
// consumers (dashboards, websocket gateways) subscribe out of process
// through the broker.
package pubsub

import "context"

// MetricsTopic is the per-project topic rollup updates are published on.
func MetricsTopic(projectID string) string {
	return "metrics:" + projectID
}

// Publisher delivers a payload to every subscriber of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
