package crm

import "strings"

// Kind is the structural variant of a resource node.
type Kind string

const (
	KindPrimitive   Kind = "primitive"
	KindGroup       Kind = "group"
	KindClone       Kind = "clone"
	KindPlaceholder Kind = "placeholder"
)

// IsContainer reports whether nodes of this kind own positional members.
func (k Kind) IsContainer() bool {
	return k == KindGroup || k == KindClone
}

// AgentKind selects specialized presentation behavior for a primitive.
type AgentKind string

const (
	AgentFilesystem    AgentKind = "filesystem"
	AgentLinbitDrbd    AgentKind = "linbit-drbd"
	AgentDrbddisk      AgentKind = "drbddisk"
	AgentIPAddr        AgentKind = "ip-addr"
	AgentVirtualDomain AgentKind = "virtual-domain"
	AgentGeneric       AgentKind = "generic"
	AgentUnknown       AgentKind = "unknown"
)

// IsDrbd reports whether the agent manages a DRBD resource.
func (a AgentKind) IsDrbd() bool {
	return a == AgentLinbitDrbd || a == AgentDrbddisk
}

// ResourceAgent identifies the OCF/LSB/heartbeat script behind a primitive.
type ResourceAgent struct {
	Class    string `json:"class"`
	Provider string `json:"provider,omitempty"`
	Type     string `json:"type"`
}

// String renders the agent the way crm shell does, e.g. "ocf:heartbeat:IPaddr2".
func (ra ResourceAgent) String() string {
	if ra.Type == "" {
		return ""
	}
	if ra.Provider == "" {
		return ra.Class + ":" + ra.Type
	}
	return ra.Class + ":" + ra.Provider + ":" + ra.Type
}

// Classify maps a resource agent onto the closed set of agent kinds.
func Classify(ra ResourceAgent) AgentKind {
	switch {
	case ra.Type == "":
		return AgentUnknown
	case ra.Type == "Filesystem":
		return AgentFilesystem
	case ra.Type == "drbd" && strings.EqualFold(ra.Provider, "linbit"):
		return AgentLinbitDrbd
	case ra.Type == "drbddisk":
		return AgentDrbddisk
	case ra.Type == "IPaddr" || ra.Type == "IPaddr2":
		return AgentIPAddr
	case ra.Type == "VirtualDomain":
		return AgentVirtualDomain
	}
	return AgentGeneric
}

// ColocationData is a direct (non-set) colocation constraint: Rsc runs with WithRsc.
type ColocationData struct {
	ID      string `json:"id"`
	Rsc     string `json:"rsc"`
	WithRsc string `json:"with_rsc"`
	Score   string `json:"score,omitempty"`
}

// OrderData is a direct (non-set) order constraint: Rsc starts before RscThen.
type OrderData struct {
	ID      string `json:"id"`
	Rsc     string `json:"rsc"`
	RscThen string `json:"rsc_then"`
	Score   string `json:"score,omitempty"`
}
