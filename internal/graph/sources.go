package graph

import (
	"errors"

	"github.com/as775116191/ragflow/internal/changesource"
	"github.com/as775116191/ragflow/internal/domain"
)

// Sources builds a change source for a knowledge base's sync configuration.
type Sources struct {
	client *Client
}

// NewSources returns a factory sharing one authenticated client. A nil
// client means Graph credentials are not configured.
func NewSources(client *Client) *Sources {
	return &Sources{client: client}
}

func (f *Sources) ForKnowledgeBase(kb *domain.KnowledgeBase) (changesource.ChangeSource, error) {
	if f == nil || f.client == nil {
		return nil, domain.ErrSyncConfiguration.Wrap(errors.New("graph credentials are not configured"))
	}
	if err := domain.ValidateSyncConfig(kb.Sync); err != nil {
		return nil, err
	}
	switch kb.Sync.Kind {
	case domain.SyncKindDrive:
		return NewDriveSource(f.client, kb.Sync.Account), nil
	case domain.SyncKindMailbox:
		return NewMailSource(f.client, kb.Sync.Account, kb.Sync.Folder), nil
	default:
		return nil, domain.ErrInvalidSyncKind
	}
}
