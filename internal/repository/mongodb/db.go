package mongodb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Connect dials uri, waits for the primary to answer and logs connection
// lifecycle changes for as long as the client lives.
func Connect(ctx context.Context, uri string, timeout time.Duration, logger logrus.FieldLogger) (*mongo.Client, error) {
	monitor := newConnectionMonitor(logger)

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetServerMonitor(monitor.serverMonitor())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return client, nil
}

// connectionMonitor turns driver heartbeats into connected / error /
// disconnected log lines. It never affects request handling.
type connectionMonitor struct {
	logger    logrus.FieldLogger
	connected atomic.Bool
}

func newConnectionMonitor(logger logrus.FieldLogger) *connectionMonitor {
	return &connectionMonitor{logger: logger.WithField("component", "mongodb")}
}

func (m *connectionMonitor) serverMonitor() *event.ServerMonitor {
	return &event.ServerMonitor{
		ServerHeartbeatSucceeded: m.heartbeatSucceeded,
		ServerHeartbeatFailed:    m.heartbeatFailed,
		TopologyClosed:           m.topologyClosed,
	}
}

func (m *connectionMonitor) heartbeatSucceeded(e *event.ServerHeartbeatSucceededEvent) {
	if m.connected.CompareAndSwap(false, true) {
		m.logger.WithField("connection", e.ConnectionID).Info("mongodb connected")
	}
}

func (m *connectionMonitor) heartbeatFailed(e *event.ServerHeartbeatFailedEvent) {
	m.logger.WithField("connection", e.ConnectionID).WithError(e.Failure).Error("mongodb connection error")
	if m.connected.CompareAndSwap(true, false) {
		m.logger.WithField("connection", e.ConnectionID).Warn("mongodb disconnected")
	}
}

func (m *connectionMonitor) topologyClosed(*event.TopologyClosedEvent) {
	if m.connected.CompareAndSwap(true, false) {
		m.logger.Info("mongodb disconnected")
	}
}
