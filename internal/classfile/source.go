package classfile

import "fmt"

// InMemorySource is a ClassSource backed by a fixed map of binary name to
// already-decoded VerifiedClass, used by tests and by embedders that
// compile or ship their classes as data rather than as files.
type InMemorySource struct {
	classes map[string]*VerifiedClass
}

func NewInMemorySource() *InMemorySource {
	return &InMemorySource{classes: make(map[string]*VerifiedClass)}
}

// Put decodes raw .class bytes and registers the result under a binary
// name (e.g. "Foo" or "java/lang/Object").
func (s *InMemorySource) Put(binaryName string, data []byte) error {
	vc, err := Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", binaryName, err)
	}
	s.classes[binaryName] = vc
	return nil
}

// PutVerified registers an already-built VerifiedClass directly, used by
// tests that synthesize classes without going through .class bytes.
func (s *InMemorySource) PutVerified(binaryName string, vc *VerifiedClass) {
	s.classes[binaryName] = vc
}

func (s *InMemorySource) Load(binaryName string) (*VerifiedClass, error) {
	vc, ok := s.classes[binaryName]
	if !ok {
		return nil, fmt.Errorf("%s: not found", binaryName)
	}
	return vc, nil
}
