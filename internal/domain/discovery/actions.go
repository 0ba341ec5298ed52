package discovery

// ActionKind names a user-triggered side effect tracked for in-flight dedup.
type ActionKind string

const (
	ActionAddToLibrary  ActionKind = "addToLibrary"
	ActionRequestArtist ActionKind = "requestArtist"
	ActionFetchPreview  ActionKind = "fetchPreview"
	ActionFetchSample   ActionKind = "fetchSample"
	ActionPromptSeed    ActionKind = "promptSeed"
	ActionSearchSeed    ActionKind = "searchSeed"
	ActionStart         ActionKind = "start"
	ActionStop          ActionKind = "stop"
	ActionLoadMore      ActionKind = "loadMore"
	ActionPollSources   ActionKind = "pollPersonalSources"
	ActionListLibrary   ActionKind = "listLibrary"
)

// Role is the coarse privilege level of a connected principal.
type Role string

const (
	RoleAnonymous Role = ""
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
)

// Principal identifies who issued a command.
type Principal struct {
	UserID string
	Role   Role
}

// Authenticated reports whether the principal is a known user.
func (p Principal) Authenticated() bool { return p.UserID != "" && p.Role != RoleAnonymous }

// IsAdmin reports whether the principal may perform privileged actions.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Requester ties a command to the connection and principal that issued it so
// scoped events can be routed back.
type Requester struct {
	ConnectionID string
	Principal    Principal
}
