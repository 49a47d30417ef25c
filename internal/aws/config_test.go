package aws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, "us-east-1", cfg.Region)
}

func TestLoadAWSConfig_WithEndpointOverride(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), Options{
		Region:           "eu-west-1",
		EndpointOverride: "http://localhost:4566",
	})
	require.NoError(t, err)
	require.Equal(t, "eu-west-1", cfg.Region)
	require.NotNil(t, cfg.BaseEndpoint)
	require.Equal(t, "http://localhost:4566", *cfg.BaseEndpoint)
}

func TestNewClients_ShareRegionAndEndpoint(t *testing.T) {
	clients, err := NewClients(context.Background(), Options{
		Region:           "ap-south-1",
		EndpointOverride: "http://localhost:4566",
	})
	require.NoError(t, err)
	require.Equal(t, "ap-south-1", clients.Region)
	require.NotNil(t, clients.DynamoDB)
	require.NotNil(t, clients.SQS)
	require.NotNil(t, clients.CloudWatch)
}
