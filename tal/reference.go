package tal

// Reference identifies an allocation within one thread's heap. It is the byte offset of the
// allocation from the start of the heap buffer, so it stays meaningful only for the thread that
// received it.
type Reference int

// NullReference is the reference that identifies no allocation. It is returned for zero-sized
// requests and accepted by Resize and Release.
const NullReference Reference = -1

// IsNull returns true if this reference does not identify an allocation
func (r Reference) IsNull() bool {
	return r == NullReference
}
