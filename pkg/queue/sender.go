package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/model"
)

const (
	chanSize           = 1024
	maxElementPerBatch = 10 // SQS Batch limit is 10 items per request
	flushInterval      = 5 * time.Second
)

// SQSConfig points to the notification queue
type SQSConfig struct {
	URL string
	// Region of the SQS service
	Region string
	// Endpoint overrides the SQS API endpoint (localstack, elasticmq)
	Endpoint string
}

func NewSQS(c SQSConfig) (sqsiface.SQSAPI, error) {
	cfg := aws.NewConfig().
		WithEndpoint(c.Endpoint).
		WithRegion(c.Region)
	sess, err := session.NewSessionWithOptions(session.Options{Config: *cfg})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize SQS session")
	}
	return sqs.New(sess), nil
}

// Sender batches notifications into SQS. Delivery is fire-and-forget:
// a failed batch is logged and dropped.
type Sender struct {
	api    sqsiface.SQSAPI
	url    *string
	items  chan *model.Notification
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ Notifier = (*Sender)(nil)

func NewSender(ctx context.Context, api sqsiface.SQSAPI, url string) *Sender {
	ctx, cancel := context.WithCancel(ctx)

	sender := &Sender{
		api:    api,
		url:    aws.String(url),
		items:  make(chan *model.Notification, chanSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go sender.transmit(ctx)

	return sender
}

func (s *Sender) Notify(ctx context.Context, notification *model.Notification) error {
	if err := notification.Validate(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return errors.New("sender is closed")
	default:
	}

	select {
	case s.items <- notification:
		return nil
	case <-s.done:
		return errors.New("sender is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the sender and flushes whatever is buffered.
func (s *Sender) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Sender) transmit(ctx context.Context) {
	defer close(s.done)

	var list = make([]*model.Notification, 0, maxElementPerBatch)

	flush := func(ctx context.Context) {
		if len(list) == 0 {
			return
		}

		if err := s.send(ctx, list); err != nil {
			log.WithError(err).Error("failed to send batch")
		}

		list = make([]*model.Notification, 0, maxElementPerBatch)
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Flush list if not filled up entirely within flush interval
			flush(ctx)

		case item := <-s.items:
			// Append an item to list and flush if filled up
			list = append(list, item)
			if len(list) == maxElementPerBatch {
				flush(ctx)
			}

		case <-ctx.Done():
			// Exiting, drain and flush leftovers
			for {
				select {
				case item := <-s.items:
					list = append(list, item)
					if len(list) == maxElementPerBatch {
						flush(context.Background())
					}
				default:
					flush(context.Background())
					return
				}
			}
		}
	}
}

func (s *Sender) send(ctx context.Context, list []*model.Notification) error {
	if len(list) == 0 {
		return nil
	}

	log.Debugf("sending a new batch")

	sendInput := &sqs.SendMessageBatchInput{
		QueueUrl: s.url,
	}

	for _, item := range list {
		data, err := json.Marshal(item)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal notification %q", item.ID)
		}

		sendInput.Entries = append(sendInput.Entries, &sqs.SendMessageBatchRequestEntry{
			Id:          aws.String(item.ID),
			MessageBody: aws.String(string(data)),
		})
	}

	output, err := s.api.SendMessageBatchWithContext(ctx, sendInput)
	if err != nil {
		return errors.Wrap(err, "failed to send message batch")
	}

	for _, failed := range output.Failed {
		log.WithFields(log.Fields{
			"notification_id": aws.StringValue(failed.Id),
			"code":            aws.StringValue(failed.Code),
		}).Warnf("SQS rejected notification: %s", aws.StringValue(failed.Message))
	}

	log.Infof("sent %d notification(s) to SQS", len(list)-len(output.Failed))
	return nil
}
