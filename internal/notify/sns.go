// Package notify delivers rendered cost reports via SNS or LINE Notify.
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// PublishAPI abstracts the SNS Publish operation.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher sends reports to an SNS topic with an email subscription.
type SNSPublisher struct {
	client   PublishAPI
	topicARN string
	log      *zap.SugaredLogger
}

// NewSNSPublisher creates a publisher for the given topic.
func NewSNSPublisher(client PublishAPI, topicARN string, log *zap.SugaredLogger) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN, log: log}
}

// Send publishes the message with the given subject.
func (p *SNSPublisher) Send(ctx context.Context, subject, message string) error {
	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &p.topicARN,
		Subject:  &subject,
		Message:  &message,
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	p.log.Infow("notification published", "topic", p.topicARN, "messageId", aws.ToString(out.MessageId))
	return nil
}
