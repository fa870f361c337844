package module

// Result and error codes form the stable wire vocabulary shared by the API,
// the database and the background schedulers. Adding an outcome means adding
// a constant here and a mapping in the orchestrator - never an ad-hoc string.

type ResultCode string

const (
	NoCidContactData              ResultCode = "NoCidContactData"
	MissingAddrFromCidContact     ResultCode = "MissingAddrFromCidContact"
	MissingHttpAddrFromCidContact ResultCode = "MissingHttpAddrFromCidContact"
	FailedToGetWorkingUrl         ResultCode = "FailedToGetWorkingUrl"
	NoDealsFound                  ResultCode = "NoDealsFound"
	TimedOut                      ResultCode = "TimedOut"
	Success                       ResultCode = "Success"
	ReachableButInvalid           ResultCode = "ReachableButInvalid"
	JobCreated                    ResultCode = "JobCreated"
	ResultError                   ResultCode = "Error"
)

// Message returns a human readable explanation, or empty string for Success.
func (c ResultCode) Message() string {
	switch c {
	case Success:
		return ""
	case NoCidContactData:
		return "No data available from cid.contact for this provider"
	case MissingAddrFromCidContact:
		return "No address information found from cid.contact"
	case MissingHttpAddrFromCidContact:
		return "No HTTP address found in cid.contact data"
	case FailedToGetWorkingUrl:
		return "Failed to find a working URL for this provider"
	case NoDealsFound:
		return "No deals found for this provider"
	case ReachableButInvalid:
		return "Provider is reachable but served content failed validation"
	case TimedOut:
		return "Request timed out while discovering URL"
	case JobCreated:
		return "Discovery job has been created"
	case ResultError:
		return "An error occurred during URL discovery"
	default:
		return ""
	}
}

type ErrorCode string

const (
	NoProviderOrClient             ErrorCode = "NoProviderOrClient"
	NoProvidersFound               ErrorCode = "NoProvidersFound"
	FailedToRetrieveCidContactData ErrorCode = "FailedToRetrieveCidContactData"
	FailedToGetPeerId              ErrorCode = "FailedToGetPeerId"
	FailedToGetDeals               ErrorCode = "FailedToGetDeals"
)

type DiscoveryType string

const (
	DiscoveryProvider       DiscoveryType = "Provider"
	DiscoveryProviderClient DiscoveryType = "ProviderClient"
)
