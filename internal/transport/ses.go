package transport

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/nimbusmail/outreach/internal/pkg/logger"
)

// SESTransport sends via AWS SES using the SDK v2. With empty static
// credentials the default AWS credential chain applies (IAM role in
// deployment). Inbound uses the generic JSON format.
type SESTransport struct {
	client *sesv2.Client
	auth   InboundAuth
}

// NewSESTransport creates an SES transport.
func NewSESTransport(accessKey, secretKey, region string, auth InboundAuth) (*SESTransport, error) {
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}

	return &SESTransport{client: sesv2.NewFromConfig(cfg), auth: auth}, nil
}

// Send delivers one message through SES.
func (t *SESTransport) Send(ctx context.Context, msg *Message) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromAddress)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	for name, value := range msg.Metadata {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		if classifyErr(err) == KindPermanent {
			return "", Permanent(fmt.Errorf("ses: %w", err))
		}
		return "", Transient(fmt.Errorf("ses: %w", err))
	}

	messageID := aws.ToString(result.MessageId)
	log.Printf("[SES] Sent to %s (id: %s)", logger.RedactEmail(msg.To), messageID)
	return messageID, nil
}

// VerifyInbound authenticates an inbound webhook via Basic auth.
func (t *SESTransport) VerifyInbound(r *http.Request) bool {
	return t.auth.Verify(r)
}

// ParseInbound decodes the generic inbound JSON payload.
func (t *SESTransport) ParseInbound(r *http.Request) (*InboundMessage, error) {
	return parseGenericInbound(r)
}
