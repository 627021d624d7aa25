package store

import (
	"errors"

	"gorm.io/gorm"

	"strategyexecutor/src/model"
)

// CreateOcoGroupPreparing writes the intent row for a new bracket before
// either leg is submitted to the broker (spec.md §5). It writes only the
// group row; the two leg Order intent rows are written separately, each
// just before its own submit.
func (s *Store) CreateOcoGroupPreparing(group *model.OcoGroup) error {
	return s.db.Create(group).Error
}

// AttachOcoLegs links the group to its two order rows and flips it to
// ACTIVE, all inside one transaction (spec.md §4.5 step 5).
func (s *Store) AttachOcoLegs(groupID uint, tpOrderID, slOrderID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&model.OcoGroup{}).Where("id = ?", groupID).Updates(map[string]interface{}{
			"tp_order_id": tpOrderID,
			"sl_order_id": slOrderID,
			"status":      model.OcoActive,
			"version":     gorm.Expr("version + 1"),
		}).Error
	})
}

func (s *Store) GetOcoGroup(id uint) (*model.OcoGroup, error) {
	var g model.OcoGroup
	err := s.db.First(&g, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListActiveOcoGroupsByItem returns the item's live brackets.
func (s *Store) ListActiveOcoGroupsByItem(itemID uint) ([]model.OcoGroup, error) {
	var groups []model.OcoGroup
	err := s.db.Where("batch_item_id = ? AND status = ?", itemID, model.OcoActive).Find(&groups).Error
	return groups, err
}

// ListOcoGroupsByItem returns every bracket ever opened for an item,
// used when computing Σqty of closed groups (spec.md §4.5 step 5).
func (s *Store) ListOcoGroupsByItem(itemID uint) ([]model.OcoGroup, error) {
	var groups []model.OcoGroup
	err := s.db.Where("batch_item_id = ?", itemID).Order("id asc").Find(&groups).Error
	return groups, err
}

// TransitionOcoGroup is the conditional-update path for group status,
// mirroring TransitionItem.
func (s *Store) TransitionOcoGroup(group model.OcoGroup, to model.OcoGroupStatus, fields map[string]interface{}) (bool, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = to
	fields["version"] = gorm.Expr("version + 1")
	res := s.db.Model(&model.OcoGroup{}).
		Where("id = ? AND status = ? AND version = ?", group.ID, group.Status, group.Version).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
