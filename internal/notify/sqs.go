package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/programme-lv/probpipe/api"
)

// SendMessageAPI is the part of the SQS client the notifier uses.
type SendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SqsNotifier sends an event to an SQS queue whenever a job reaches a
// terminal status. Sending happens on its own goroutine so job writes never
// wait for the network.
type SqsNotifier struct {
	client   SendMessageAPI
	queueURL string
	log      *slog.Logger

	events chan api.JobEvent
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSqsClient loads the default AWS configuration for region.
func NewSqsClient(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

func NewSqsNotifier(client SendMessageAPI, queueURL string, log *slog.Logger) *SqsNotifier {
	n := &SqsNotifier{
		client:   client,
		queueURL: queueURL,
		log:      log,
		events:   make(chan api.JobEvent, 256),
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *SqsNotifier) JobUpdated(job api.Job) {
	if !job.Status.Terminal() {
		return
	}
	select {
	case n.events <- trimEvent(api.NewJobEvent(job)):
	default:
		n.log.Warn("sqs notification dropped", "job", job.ID)
	}
}

func (n *SqsNotifier) loop() {
	defer n.wg.Done()
	for ev := range n.events {
		n.send(ev)
	}
}

func (n *SqsNotifier) send(msg api.JobEvent) {
	b, err := json.Marshal(msg)
	if err != nil {
		n.log.Error("failed to marshal job event", "error", err)
		return
	}
	_, err = n.client.SendMessage(context.TODO(), &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(b)),
	})
	if err != nil {
		n.log.Warn("failed to send job event", "job", msg.JobID, "error", err)
	}
}

// Close flushes queued events. JobUpdated must not be called afterwards.
func (n *SqsNotifier) Close() {
	n.once.Do(func() { close(n.events) })
	n.wg.Wait()
}
