// Package notify forwards job store writes to the outside world.
package notify

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/checker"
)

// Connect dials the NATS server at url.
func Connect(url string, log *slog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("probpipe"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
}

// publisher is the subset of *nats.Conn the publisher needs.
type publisher interface {
	Publish(subj string, data []byte) error
}

// NatsPublisher publishes a JobEvent for every job write to
// {prefix}.{slug}.{type}.
type NatsPublisher struct {
	nc     publisher
	prefix string
	log    *slog.Logger
}

func NewNatsPublisher(nc publisher, prefix string, log *slog.Logger) *NatsPublisher {
	return &NatsPublisher{nc: nc, prefix: prefix, log: log}
}

func (p *NatsPublisher) JobUpdated(job api.Job) {
	p.send(Subject(p.prefix, job), trimEvent(api.NewJobEvent(job)))
}

func (p *NatsPublisher) send(subject string, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("failed to marshal job event", "error", err)
		return
	}
	if err := p.nc.Publish(subject, b); err != nil {
		p.log.Warn("failed to publish job event", "subject", subject, "error", err)
	}
}

// Subject builds the subject for job. Dots and wildcards in the slug would
// split or widen the subject, so they are replaced.
func Subject(prefix string, job api.Job) string {
	slug := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(job.Slug)
	return prefix + "." + slug + "." + string(job.Type)
}

func trimEvent(ev api.JobEvent) api.JobEvent {
	if ev.Error != nil {
		msg := checker.TrimToRect(*ev.Error, api.MaxErrorHeight, api.MaxErrorWidth)
		ev.Error = &msg
	}
	return ev
}
