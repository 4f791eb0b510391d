package store

import (
	"github.com/google/uuid"

	"github.com/agenthands/metastore/internal/core/model"
)

// typeDef resolves name and checks its category.
func (s *GraphStore) typeDef(op, guid, name string, category model.TypeDefCategory) (*model.TypeDef, error) {
	def, err := s.types.TypeDef(name)
	if err != nil {
		return nil, &model.InstanceError{Op: op, GUID: guid, Err: err}
	}
	if def.Category != category {
		return nil, model.Errorf(op, guid, model.ErrUnknownType, "%s is a %s, not a %s", name, def.Category, category)
	}
	return def, nil
}

// checkProperties rejects properties the type does not declare and values
// whose primitive type differs from the declaration.
func (s *GraphStore) checkProperties(op, guid, typeName string, props model.InstanceProperties) error {
	if len(props) == 0 {
		return nil
	}
	attrs, err := s.types.AttributesOf(typeName)
	if err != nil {
		return &model.InstanceError{Op: op, GUID: guid, Err: err}
	}
	for name, v := range props {
		attr, ok := attrs[name]
		if !ok {
			return model.Errorf(op, guid, model.ErrUnknownType, "%s has no attribute %q", typeName, name)
		}
		if v.Type != attr.Type {
			return model.Errorf(op, guid, model.ErrUnknownType, "attribute %s.%s is %s, got %s", typeName, name, attr.Type, v.Type)
		}
	}
	return nil
}

// checkClassification validates a classification against its typedef and
// the entity type it annotates.
func (s *GraphStore) checkClassification(op, guid, entityType string, c model.Classification) error {
	def, err := s.typeDef(op, guid, c.Name, model.CategoryClassification)
	if err != nil {
		return err
	}
	if len(def.ValidEntityDefs) > 0 {
		valid := false
		for _, v := range def.ValidEntityDefs {
			if s.types.IsTypeOf(entityType, v) {
				valid = true
				break
			}
		}
		if !valid {
			return model.Errorf(op, guid, model.ErrUnknownType, "classification %s does not apply to %s", c.Name, entityType)
		}
	}
	return s.checkProperties(op, guid, c.Name, c.Properties)
}

// checkStatus refuses statuses only the store itself assigns.
func checkStatus(op, guid string, status model.InstanceStatus) error {
	switch status {
	case model.StatusDeleted, model.StatusProxy:
		return model.Errorf(op, guid, model.ErrInvalidCriteria, "status %s cannot be written directly", status)
	}
	return nil
}

func orActive(status model.InstanceStatus) model.InstanceStatus {
	if status == "" {
		return model.StatusActive
	}
	return status
}

func newGUID(guid string) string {
	if guid == "" {
		return uuid.NewString()
	}
	return guid
}

// checkReferenceCopy enforces that a reference copy comes from another
// collection and carries a version.
func (s *GraphStore) checkReferenceCopy(op string, h model.InstanceHeader) error {
	if h.GUID == "" {
		return model.Errorf(op, "", model.ErrInvalidCriteria, "reference copy without a guid")
	}
	if h.Version < 1 {
		return model.Errorf(op, h.GUID, model.ErrInvalidCriteria, "reference copy without a version")
	}
	if h.MetadataCollectionID == "" || h.MetadataCollectionID == s.opts.MetadataCollectionID {
		return model.Errorf(op, h.GUID, model.ErrInvalidCriteria, "reference copy must be homed in another collection, got %q", h.MetadataCollectionID)
	}
	return nil
}

func typeConflict(op, guid, stored, incoming string) error {
	return model.Errorf(op, guid, model.ErrDuplicateGUID, "stored as %s, not %s", stored, incoming)
}

// checkHomed refuses local changes to a reference copy; only its home
// collection may change it.
func (s *GraphStore) checkHomed(op string, h model.InstanceHeader) error {
	if h.MetadataCollectionID != s.opts.MetadataCollectionID {
		return model.Errorf(op, h.GUID, model.ErrInvalidCriteria, "reference copy homed in %q is read-only", h.MetadataCollectionID)
	}
	return nil
}
