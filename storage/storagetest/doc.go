// Package storagetest provides a conformance suite shared by every
// storage.Store implementation.
//
// Adapter tests call TestStore with a factory that returns a fresh, empty
// store:
//
//	func TestConformance(t *testing.T) {
//		storagetest.TestStore(t, func(t *testing.T) storage.Store {
//			return memory.New(nil)
//		})
//	}
package storagetest
