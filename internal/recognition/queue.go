// Package recognition hands clients off to the document recognition worker.
package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

// Requester triggers recognition for a client's stored documents.
type Requester interface {
	Recognize(ctx context.Context, req Request) error
}

// Request is the queued job body.
type Request struct {
	ClientID    string    `json:"client_id"`
	BookingID   string    `json:"booking_id,omitempty"`
	LeadID      int64     `json:"lead_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// SQSAPI is the subset of the SQS client the queue needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue enqueues recognition jobs. With no queue URL it only logs.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	logger   *logging.Logger
	now      func() time.Time
}

func NewSQSQueue(client SQSAPI, queueURL string, logger *logging.Logger) *SQSQueue {
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		now:      time.Now,
	}
}

func (q *SQSQueue) Recognize(ctx context.Context, req Request) error {
	if req.ClientID == "" {
		return fmt.Errorf("recognition: client id required")
	}
	if q.client == nil || q.queueURL == "" {
		q.logger.Info("recognition queue not configured, skipping", "client_id", req.ClientID, "booking_id", req.BookingID)
		return nil
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = q.now().UTC()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("recognition: encode job: %w", err)
	}
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"job": {
				DataType:    aws.String("String"),
				StringValue: aws.String("document_recognition"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("recognition: failed to send SQS message: %w", err)
	}
	q.logger.Info("recognition job enqueued", "client_id", req.ClientID, "message_id", aws.ToString(out.MessageId))
	return nil
}

var _ Requester = (*SQSQueue)(nil)
