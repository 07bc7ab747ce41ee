package delivery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/hubwire/comms-core/internal/pkg/logger"
)

// SESSender delivers email through the AWS SES v2 API.
type SESSender struct {
	client      *sesv2.Client
	fromAddress string
}

// NewSESSender creates an SES-backed email sender with static credentials.
func NewSESSender(ctx context.Context, accessKey, secretKey, region, fromAddress string) (*SESSender, error) {
	creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESSender{
		client:      sesv2.NewFromConfig(awsCfg),
		fromAddress: fromAddress,
	}, nil
}

// Send delivers one email. The SES client honors ctx, so the caller's
// deadline bounds the attempt directly.
func (s *SESSender) Send(ctx context.Context, msg Message) Result {
	subject := msg.Subject
	if subject == "" {
		subject = "Message from " + s.fromAddress
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("email delivery failed",
			"contact_id", msg.ContactID.String(), "error", err.Error())
		return Result{Success: false, Error: err.Error()}
	}
	res := Result{Success: true}
	if out.MessageId != nil {
		res.ProviderID = *out.MessageId
	}
	return res
}
