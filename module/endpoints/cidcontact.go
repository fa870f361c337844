package endpoints

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
)

// ErrNoDirectoryData indicates the directory has no entry for the peer id.
var ErrNoDirectoryData = errors.New("no directory data for peer id")

// CidContactDirectory looks up advertised multiaddresses on cid.contact.
type CidContactDirectory struct {
	client  *resty.Client
	baseURL string
	log     zerolog.Logger
}

type contactResponse struct {
	ExtendedProviders *struct {
		Providers []struct {
			Addrs []string `json:"Addrs"`
		} `json:"Providers"`
	} `json:"ExtendedProviders"`
	Publisher *struct {
		Addrs []string `json:"Addrs"`
	} `json:"Publisher"`
}

func NewCidContactDirectory(baseURL string, timeout time.Duration) *CidContactDirectory {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "provider-sample-url-finder")

	return &CidContactDirectory{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log2.With().Str("module", "cidcontact").Caller().Logger(),
	}
}

func (d *CidContactDirectory) Addresses(ctx context.Context, peerID string) ([]string, error) {
	got, err := d.client.R().SetContext(ctx).Get(d.baseURL + "/providers/" + peerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cid.contact")
	}

	d.log.Debug().Str("peerId", peerID).Str("status", got.Status()).
		Dur("timeSpent", got.Time()).Msg("cid.contact response received")

	if got.IsError() {
		return nil, ErrNoDirectoryData
	}

	var response contactResponse

	err = json.Unmarshal(got.Body(), &response)
	if err != nil {
		return nil, ErrNoDirectoryData
	}

	return addressesFromResponse(response), nil
}

// addressesFromResponse prefers the ExtendedProviders section; when absent it
// falls back to Publisher addresses, which need cleanup before they parse as
// multiaddresses.
func addressesFromResponse(response contactResponse) []string {
	addrs := make([]string, 0)

	if response.ExtendedProviders != nil {
		for _, provider := range response.ExtendedProviders.Providers {
			addrs = append(addrs, provider.Addrs...)
		}
		return addrs
	}

	if response.Publisher != nil {
		for _, addr := range response.Publisher.Addrs {
			addrs = append(addrs, cleanPublisherAddr(addr))
		}
	}

	return addrs
}

func cleanPublisherAddr(addr string) string {
	decoded, err := url.QueryUnescape(addr)
	if err != nil {
		decoded = addr
	}

	cleaned := strings.ReplaceAll(decoded, "//", "/")

	if index := strings.Index(cleaned, "/http-path"); index >= 0 {
		cleaned = cleaned[:index]
	}

	// default ports for addrs that name the protocol without a tcp component
	if !strings.Contains(cleaned, "/tcp/") {
		switch {
		case strings.HasSuffix(cleaned, "/https"):
			cleaned = strings.TrimSuffix(cleaned, "/https") + "/tcp/443/https"
		case strings.HasSuffix(cleaned, "/http"):
			cleaned = strings.TrimSuffix(cleaned, "/http") + "/tcp/80/http"
		}
	}

	return cleaned
}
