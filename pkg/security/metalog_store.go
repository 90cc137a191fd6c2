package security

import (
	"errors"

	"github.com/hyperrange/rangemaster/pkg/metalog"
	"github.com/hyperrange/rangemaster/pkg/types"
)

// ErrCANotPersisted is returned by MetalogCAStore.GetCA when no CA has ever
// been saved.
var ErrCANotPersisted = errors.New("security: no CA persisted in metalog")

// caEntityID is the single well-known entity id CertAuthority's serialized
// blob is stored under; there is exactly one CA per cluster.
const caEntityID = "root"

// MetalogCAStore persists the cluster CA as a single metalog entity,
// reusing the same durable log the operation graph and connection table
// are recovered from rather than a bespoke file format.
type MetalogCAStore struct {
	writer *metalog.Writer
}

// NewMetalogCAStore wraps a metalog writer as a CAStore.
func NewMetalogCAStore(writer *metalog.Writer) *MetalogCAStore {
	return &MetalogCAStore{writer: writer}
}

func (s *MetalogCAStore) GetCA() ([]byte, error) {
	entities, err := s.writer.Replay(types.EntityTypeCA)
	if err != nil {
		return nil, err
	}
	for _, ent := range entities {
		if ent.EntityID == caEntityID {
			return ent.Payload, nil
		}
	}
	return nil, ErrCANotPersisted
}

func (s *MetalogCAStore) SaveCA(data []byte) error {
	return s.writer.RecordState(types.MetalogEntity{
		TypeTag:  types.EntityTypeCA,
		EntityID: caEntityID,
		Payload:  data,
	})
}
