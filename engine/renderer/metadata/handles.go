package metadata

import "math"

// Handle is an opaque reference to an object owned by the renderer backend.
type Handle uint64

const EmptyHandle Handle = 0

func (h Handle) IsValid() bool {
	return h != EmptyHandle
}

// InvalidSlot is returned when no bindless slot could be handed out.
const InvalidSlot uint32 = math.MaxUint32
