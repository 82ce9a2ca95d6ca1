// internal/storage/factory.go
package storage

import (
	"fmt"
)

// Constructor builds one backend type. The concrete backends register
// themselves from the composition root to avoid an import cycle.
type Constructor func() (Backend, error)

// NewBackend creates a storage backend based on the configured type.
func NewBackend(kind string, constructors map[string]Constructor) (Backend, error) {
	ctor, ok := constructors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s", kind)
	}
	b, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("creating %s storage: %w", kind, err)
	}
	return b, nil
}
