package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscovery_SubmitRequiresProviderOrClient(t *testing.T) {
	assert := assert.New(t)

	disc := NewDiscovery(nil, nil, nil, nil, 1)

	job, err := disc.Submit(context.Background(), nil, nil)
	assert.ErrorIs(err, ErrNoProviderOrClient)
	assert.Nil(job)
}
