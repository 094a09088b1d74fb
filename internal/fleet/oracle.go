// Package fleet is the membership oracle the Dispatcher consults to expand
// a named group into a device-id list: a minimal read interface plus an
// in-memory implementation the ingress CRUD handlers seed.
package fleet

import "errors"

// ErrGroupNotFound is returned by MembersOf when the named group does not
// exist.
var ErrGroupNotFound = errors.New("fleet: group not found")

// Oracle is the read interface the Dispatcher consumes. Implementations may
// be backed by a database in a real deployment; the dispatch engine only
// depends on this interface.
type Oracle interface {
	// MembersOf returns the device ids belonging to groupID, or
	// ErrGroupNotFound if no such group exists.
	MembersOf(groupID string) ([]string, error)
}
