package store

import (
	"errors"

	"gorm.io/gorm"

	"strategyexecutor/src/model"
)

// GetActiveAccount resolves "the" active broker account the way
// original_source's _get_active_api_account does: most-recently-updated
// row with is_active=true. v1 never fans out to more than one account at
// once (spec.md Non-goals), but the table supports storing several.
func (s *Store) GetActiveAccount() (*model.BrokerAccount, error) {
	var account model.BrokerAccount
	err := s.db.Where("is_active = ?", true).Order("updated_at desc").First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) CreateAccount(account *model.BrokerAccount) error {
	return s.db.Create(account).Error
}

// SavePositionSnapshot persists one list_positions observation for audit.
func (s *Store) SavePositionSnapshot(snap *model.PositionSnapshot) error {
	return s.db.Create(snap).Error
}

// LatestPositionHandle finds the most recent snapshot for a symbol/side
// that carries a position handle. No component calls it: the Watcher
// assigns handles to items from the live list_positions result.
func (s *Store) LatestPositionHandle(symbol string, side model.Side) (*model.PositionSnapshot, error) {
	var snap model.PositionSnapshot
	err := s.db.Where("symbol = ? AND side = ? AND hold_id != ''", symbol, side).
		Order("observed_at desc").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
