package typedb

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/internal/core/session"
)

const (
	KeyGetComponentTypes = "get_component_types"
	KeyGetTypeInfo       = "get_type_info"
)

// Register installs the type discovery handlers.
func (db *DB) Register(reg session.Registrar) {
	reg.AddQueryHandler(KeyGetComponentTypes, db.componentTypesQuery)
	reg.AddResponseHandler(KeyGetComponentTypes, db.componentTypesResponse)
	reg.AddQueryHandler(KeyGetTypeInfo, db.typeInfoQuery)
	reg.AddResponseHandler(KeyGetTypeInfo, db.typeInfoResponse)
}

func (db *DB) componentTypesQuery(uint32, session.Priority) any {
	if db.queriedComponentTypes {
		return nil
	}
	db.queriedComponentTypes = true
	return true
}

func (db *DB) componentTypesResponse(_ uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return err
	}
	db.logger.Info("Received component types", log.Int("count", len(names)))

	var errs []error
	for _, name := range names {
		db.componentTypes[name] = struct{}{}
		if _, err := db.ConstructType(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// typeInfoQuery asks for every pending type once; names that still cannot be
// resolved become pending again on the next construction attempt.
func (db *DB) typeInfoQuery(uint32, session.Priority) any {
	if len(db.pending) == 0 {
		return nil
	}
	names := db.Pending()
	clear(db.pending)
	return names
}

func (db *DB) typeInfoResponse(_ uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var descs Descriptors
	if err := json.Unmarshal(payload, &descs); err != nil {
		return err
	}
	return db.OnTypeDescriptorsReceived(descs)
}

func isNull(payload json.RawMessage) bool {
	return len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null"))
}
