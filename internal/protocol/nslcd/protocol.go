// Package nslcd defines the private wire protocol spoken between the
// unprivileged PAM client module and the nslcd daemon, together with
// the typed framing codec used to read and write it.
//
// Every request starts with the protocol version and an action tag,
// followed by the action's fixed field sequence. Responses echo the
// version and action, then carry zero or more result records, each
// introduced by ResultBegin and closed by a single ResultEnd. Zero
// records before ResultEnd means "entity not found"; exactly one
// record carries a definite outcome. Clients depend on this
// distinction.
package nslcd

// Version is the protocol version tag exchanged on every request and
// response. Mismatched versions abort the exchange.
const Version int32 = 0x00000002

// Action tags for the PAM operations.
const (
	ActionPAMAuthc        int32 = 0x000d0001 // authenticate
	ActionPAMAuthz        int32 = 0x000d0002 // authorize
	ActionPAMSessionOpen  int32 = 0x000d0003 // session open
	ActionPAMSessionClose int32 = 0x000d0004 // session close
	ActionPAMPwMod        int32 = 0x000d0005 // password change
)

// Result record markers.
const (
	ResultBegin int32 = 1
	ResultEnd   int32 = 2
)

// PAM result codes carried in response records. These are this
// protocol's outcome codes; directory status codes are mapped onto
// them at the handler boundary and never appear on the wire.
const (
	PAMSuccess         int32 = 0  // everything fine
	PAMPermDenied      int32 = 6  // permission denied
	PAMAuthError       int32 = 7  // authentication failure
	PAMAuthInfoUnavail int32 = 9  // cannot reach the directory
	PAMUserUnknown     int32 = 10 // user not known
)

// Maximum on-the-wire sizes for the string fields of PAM requests.
// A declared length above the field's limit is a protocol error; the
// same limits bound configuration values substituted into request
// fields (see ErrFieldOverflow).
const (
	MaxUsernameLen = 256
	MaxUserDNLen   = 256
	MaxServiceLen  = 64
	MaxSecretLen   = 64
	MaxTTYLen      = 64
	MaxHostLen     = 256
	MaxRUserLen    = 256
	MaxMessageLen  = 1024
)

// Placeholder session identifiers returned by the session handlers.
// Session accounting happens in the directory-independent parts of the
// PAM stack; the daemon only acknowledges the calls.
const (
	SessionOpenID  int32 = 12345
	SessionCloseID int32 = 0
)

// Address family tags used by the address codec. The values match the
// Linux AF_INET/AF_INET6 constants; both ends of the socket are local
// to the same host so the kernel values are stable.
const (
	FamilyInet  int32 = 2
	FamilyInet6 int32 = 10

	// FamilyInvalid marks an address that could not be parsed when it
	// was encoded. Writers emit it with zero length so address lists
	// stay well-framed; readers must treat it as a decode error.
	FamilyInvalid int32 = -1
)
