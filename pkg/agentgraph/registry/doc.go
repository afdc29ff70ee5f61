// Package registry provides a generic thread-safe registry that remembers
// insertion order.
//
// The tool table and the definition node catalog are built on it: both need
// duplicate names rejected and deterministic listing order (tool descriptors
// are sent to the model in registration order).
//
//	r := registry.New[string, Tool]()
//	if err := r.Add("search", searchTool); err != nil {
//	    // registry.ErrDuplicate
//	}
//	for name, tool := range r.All() {
//	    // registration order
//	}
//
// All methods are safe for concurrent use. All and Values iterate over a
// snapshot, so the registry may be mutated during iteration.
package registry
