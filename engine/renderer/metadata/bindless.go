package metadata

type PendingUpdateKind int

const (
	PendingUpdateAdd PendingUpdateKind = iota
	PendingUpdateRemove
)

func (k PendingUpdateKind) String() string {
	if k == PendingUpdateAdd {
		return "add"
	}
	return "remove"
}

// PendingUpdate is a binding change waiting for one frame-in-flight's apply step.
// Resource is unset for removes.
type PendingUpdate struct {
	Kind     PendingUpdateKind
	Slot     uint32
	Resource Handle
}
