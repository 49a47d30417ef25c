package aws

import (
	"context"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients is what the order sync binaries talk to in AWS. DynamoDB holds
// the orders and idempotency tables, SQS carries order changes to the
// projector when CHANGE_FEED=sqs, and CloudWatch receives the sync counters.
// All three share one config, so an endpoint override moves them together.
type Clients struct {
	Region     string
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// NewClients loads the shared config and builds the clients from it.
func NewClients(ctx context.Context, opts Options) (*Clients, error) {
	cfg, err := LoadAWSConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return ClientsFromConfig(cfg), nil
}

func ClientsFromConfig(cfg sdkaws.Config) *Clients {
	return &Clients{
		Region:     cfg.Region,
		DynamoDB:   dynamodb.NewFromConfig(cfg),
		SQS:        sqs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}
}
