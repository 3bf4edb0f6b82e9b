// Package metrics -----------------------------
// @file      : metrics.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/1 15:20
// -------------------------------------------
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "emhiredis"

// 所有指标都带 client 标签，值是去掉密码的连接地址
var (
	CommandsIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_issued_total",
		Help:      "Commands handed to the command client.",
	}, []string{"client"})

	Replies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_total",
		Help:      "Replies correlated to a pending command, by outcome (ok or error).",
	}, []string{"client", "outcome"})

	ProtocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_errors_total",
		Help:      "Connections closed because of malformed framing.",
	}, []string{"client"})

	Desyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "desyncs_total",
		Help:      "Connections closed because a reply arrived with nothing pending.",
	}, []string{"client"})

	ConnectionsLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_lost_total",
		Help:      "Established connections that closed.",
	}, []string{"client"})

	InactivityPings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inactivity_pings_total",
		Help:      "Liveness pings sent by the inactivity watchdog.",
	}, []string{"client"})

	StateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "Connection manager state transitions.",
	}, []string{"client", "from", "to"})

	ReconnectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_failures_total",
		Help:      "Failed connection attempts.",
	}, []string{"client"})

	PubsubMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pubsub_messages_total",
		Help:      "Push messages received on subscription connections, by kind.",
	}, []string{"client", "kind"})

	PendingCommands = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_commands",
		Help:      "Commands waiting for a reply or for a connection.",
	}, []string{"client"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommandsIssued,
		Replies,
		ProtocolErrors,
		Desyncs,
		ConnectionsLost,
		InactivityPings,
		StateTransitions,
		ReconnectFailures,
		PubsubMessages,
		PendingCommands,
	}
}

// Register 注册到 reg，已经注册过的忽略
func Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forget drops every series labelled with client, used when a client is closed
func Forget(client string) {
	for _, c := range collectors() {
		switch v := c.(type) {
		case *prometheus.CounterVec:
			v.DeletePartialMatch(prometheus.Labels{"client": client})
		case *prometheus.GaugeVec:
			v.DeletePartialMatch(prometheus.Labels{"client": client})
		}
	}
}

// Serve exposes reg on addr under /metrics until ctx is cancelled
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log logrus.FieldLogger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	log.Infof("metrics server started on %s/metrics", ln.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if serr := server.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to run metrics server: %w", serr)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(server.Shutdown(shutdownCtx), <-errCh)
}
