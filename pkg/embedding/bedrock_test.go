package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBedrockClient_LoadsDefaultConfig(t *testing.T) {
	client, err := NewBedrockClient(context.Background(), ClientOptions{Region: "us-east-1"})
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestNewBedrockClient_WithProfile(t *testing.T) {
	client, err := NewBedrockClient(context.Background(), ClientOptions{Region: "us-west-2", Profile: "aviation-cache"})
	require.NoError(t, err)
	require.NotNil(t, client)
}
