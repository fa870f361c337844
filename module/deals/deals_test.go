package deals

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPieceURLs(t *testing.T) {
	assert := assert.New(t)

	urls := BuildPieceURLs(
		[]string{"http://1.2.3.4:8080", "https://example.com:443/"},
		[]string{"baga6ea4seaqaaa", "baga6ea4seaqbbb"},
	)

	assert.Equal([]string{
		"http://1.2.3.4:8080/piece/baga6ea4seaqaaa",
		"http://1.2.3.4:8080/piece/baga6ea4seaqbbb",
		"https://example.com:443/piece/baga6ea4seaqaaa",
		"https://example.com:443/piece/baga6ea4seaqbbb",
	}, urls)
}

func TestBuildPieceURLs_Empty(t *testing.T) {
	assert := assert.New(t)

	assert.Empty(BuildPieceURLs(nil, []string{"baga6ea4seaqaaa"}))
	assert.Empty(BuildPieceURLs([]string{"http://1.2.3.4:8080"}, nil))
}

func TestPieceCids_Dedupes(t *testing.T) {
	assert := assert.New(t)

	pieceCids := PieceCids([]SampledDeal{
		{DealID: 1, PieceCid: "baga6ea4seaqaaa"},
		{DealID: 2, PieceCid: "baga6ea4seaqbbb"},
		// same piece stored under a second deal
		{DealID: 3, PieceCid: "baga6ea4seaqaaa"},
	})

	assert.Equal([]string{"baga6ea4seaqaaa", "baga6ea4seaqbbb"}, pieceCids)
}
