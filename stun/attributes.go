package stun

// AttrType is the 16-bit STUN attribute type field.
type AttrType uint16

// Attribute types used by this server (RFC 8489 / RFC 8656).
const (
	AttrMappedAddress      AttrType = 0x0001
	AttrUsername           AttrType = 0x0006
	AttrMessageIntegrity   AttrType = 0x0008
	AttrErrorCode          AttrType = 0x0009
	AttrUnknownAttributes  AttrType = 0x000A
	AttrChannelNumber      AttrType = 0x000C
	AttrLifetime           AttrType = 0x000D
	AttrXORPeerAddress     AttrType = 0x0012
	AttrData               AttrType = 0x0013
	AttrRealm              AttrType = 0x0014
	AttrNonce              AttrType = 0x0015
	AttrXORRelayedAddress  AttrType = 0x0016
	AttrRequestedTransport AttrType = 0x0019
	AttrXORMappedAddress   AttrType = 0x0020
	AttrReservationToken   AttrType = 0x0022
	AttrResponseOrigin     AttrType = 0x802B
	AttrSoftware           AttrType = 0x8022
	AttrFingerprint        AttrType = 0x8028
	AttrICEControlled      AttrType = 0x8029
	AttrICEControlling     AttrType = 0x802A
)

// TransportUDP is the protocol number clients must send in
// REQUESTED-TRANSPORT (TURN only relays UDP to peers).
const TransportUDP byte = 17

// ErrorCode is the decoded value of an ERROR-CODE attribute.
type ErrorCode struct {
	Code   int
	Reason string
}

// Well-known TURN/STUN error codes this server emits.
const (
	CodeBadRequest            = 400
	CodeUnauthorized          = 401
	CodeForbidden             = 403
	CodeAllocationMismatch    = 437
	CodeWrongCredentials      = 441
	CodeUnsupportedTransport  = 442
	CodePeerFamilyMismatch    = 443
	CodeAllocationQuotaReach  = 486
	CodeServerError           = 500
	CodeInsufficientCapacity  = 508
)

func errorReason(code int) string {
	switch code {
	case CodeBadRequest:
		return "Bad Request"
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeForbidden:
		return "Forbidden"
	case CodeAllocationMismatch:
		return "Allocation Mismatch"
	case CodeWrongCredentials:
		return "Wrong Credentials"
	case CodeUnsupportedTransport:
		return "Unsupported Transport Protocol"
	case CodePeerFamilyMismatch:
		return "Peer Address Family Mismatch"
	case CodeAllocationQuotaReach:
		return "Allocation Quota Reached"
	case CodeServerError:
		return "Server Error"
	case CodeInsufficientCapacity:
		return "Insufficient Capacity"
	default:
		return "Error"
	}
}
