package endpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointsFromMultiaddrs(t *testing.T) {
	assert := assert.New(t)

	endpoints := EndpointsFromMultiaddrs([]string{
		"/ip4/1.2.3.4/tcp/8080/http",
		"/dns/example.com/tcp/443/https",
		"/dns4/piece.example.org/tcp/12910/https",
		"/ip6/2001:db8::1/tcp/80/http",
	})

	assert.Equal([]string{
		"http://1.2.3.4:8080",
		"https://example.com:443",
		"https://piece.example.org:12910",
		"http://2001:db8::1:80",
	}, endpoints)
}

func TestEndpointsFromMultiaddrs_InfersHTTPForBareTCP(t *testing.T) {
	assert := assert.New(t)

	endpoints := EndpointsFromMultiaddrs([]string{"/ip4/1.2.3.4/tcp/8080"})
	assert.Equal([]string{"http://1.2.3.4:8080"}, endpoints)
}

func TestEndpointsFromMultiaddrs_RejectsNonHTTP(t *testing.T) {
	assert := assert.New(t)

	endpoints := EndpointsFromMultiaddrs([]string{
		// udp only transport cannot serve piece requests
		"/ip4/1.2.3.4/udp/8080",
		// no port at all
		"/dns/example.com",
		// unparseable
		"not-a-multiaddr",
	})

	assert.Empty(endpoints)
}
