package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultCode_Message(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("", Success.Message())
	assert.Equal("No deals found for this provider", NoDealsFound.Message())
	assert.Equal("Discovery job has been created", JobCreated.Message())
	assert.NotEmpty(ReachableButInvalid.Message())
	assert.NotEmpty(ResultError.Message())
	assert.Equal("", ResultCode("bogus").Message())
}

func TestNewProviderResult_Defaults(t *testing.T) {
	assert := assert.New(t)

	result := NewProviderResult("f0123")
	assert.Equal("f0123", result.ProviderID)
	assert.Equal(DiscoveryProvider, result.ResultType)
	assert.Equal(ResultError, result.ResultCode)
	assert.Nil(result.ClientID)
	assert.False(result.TestedAt.IsZero())

	withClient := NewProviderClientResult("f0123", "f0456")
	assert.Equal(DiscoveryProviderClient, withClient.ResultType)
	assert.Equal("f0456", *withClient.ClientID)
}
