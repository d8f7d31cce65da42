package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mxpv/pledgesync/pkg/metrics"
	"github.com/mxpv/pledgesync/pkg/model"
)

// Worker consumes the notification queue and hands messages to the mailer.
// Delivered messages are deleted, failed ones reappear after the visibility timeout.
type Worker struct {
	api      sqsiface.SQSAPI
	url      *string
	mailer   Mailer
	waitTime time.Duration
}

func NewWorker(api sqsiface.SQSAPI, url string, mailer Mailer, waitTime time.Duration) *Worker {
	return &Worker{
		api:      api,
		url:      aws.String(url),
		mailer:   mailer,
		waitTime: waitTime,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Info("running notification worker")

	for {
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			log.WithError(err).Error("failed to poll notification queue")

			select {
			case <-time.After(w.waitTime):
			case <-ctx.Done():
				return nil
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Poll receives one batch and delivers it. Returns the number of delivered notifications.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	output, err := w.api.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            w.url,
		MaxNumberOfMessages: aws.Int64(maxElementPerBatch),
		WaitTimeSeconds:     aws.Int64(int64(w.waitTime / time.Second)),
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to receive messages")
	}

	var (
		group     errgroup.Group
		delivered = make([]bool, len(output.Messages))
	)

	for i, msg := range output.Messages {
		i, msg := i, msg
		group.Go(func() error {
			delivered[i] = w.deliver(ctx, msg)
			return nil
		})
	}

	_ = group.Wait()

	count := 0
	for _, ok := range delivered {
		if ok {
			count++
		}
	}

	return count, nil
}

func (w *Worker) deliver(ctx context.Context, msg *sqs.Message) bool {
	logger := log.WithField("sqs_message_id", aws.StringValue(msg.MessageId))

	notification := &model.Notification{}
	if err := json.Unmarshal([]byte(aws.StringValue(msg.Body)), notification); err != nil {
		// Poison message, nothing will ever parse it
		logger.WithError(err).Error("dropping malformed notification")
		w.delete(ctx, msg, logger)
		return false
	}

	logger = logger.WithFields(log.Fields{
		"notification_id": notification.ID,
		"kind":            notification.Kind,
	})

	id, err := w.mailer.Send(ctx, notification)
	metrics.RecordNotification(string(notification.Kind), err == nil)
	if err != nil {
		logger.WithError(err).Warn("failed to deliver notification, will retry")
		return false
	}

	logger.WithField("message_id", id).Info("notification delivered")
	w.delete(ctx, msg, logger)
	return true
}

func (w *Worker) delete(ctx context.Context, msg *sqs.Message, logger log.FieldLogger) {
	if _, err := w.api.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      w.url,
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		logger.WithError(err).Error("failed to delete message from queue")
	}
}
