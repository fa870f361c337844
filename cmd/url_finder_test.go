package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidBearerToken(t *testing.T) {
	assert := assert.New(t)
	tokens := []string{"secret"}

	assert.True(validBearerToken("Bearer secret", tokens))
	assert.True(validBearerToken("bearer secret", tokens))
	assert.False(validBearerToken("Bearer wrong", tokens))
	assert.False(validBearerToken("Basic secret", tokens))
	assert.False(validBearerToken("", tokens))
	assert.False(validBearerToken("Bearer", tokens))
	assert.False(validBearerToken("abc", tokens))
}
