package scene

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/singed/scenelink/internal/core/session"
)

// Message keys
const (
	KeyGetScene                 = "get_scene"
	KeyNewNode                  = "new_node"
	KeyDestroyNode              = "destroy_node"
	KeyNodeRootUpdate           = "node_root_update"
	KeyNodeNameUpdate           = "node_name_update"
	KeyNodeLocalTransformUpdate = "node_local_transform_update"
	KeyNewComponent             = "new_component"
	KeyDestroyComponent         = "destroy_component"
	KeyComponentPropertyUpdate  = "component_property_update"
	KeySaveScene                = "save_scene"
	KeyGenLightmaps             = "gen_lightmaps"
)

// Register installs the scene's query and response handlers. Registration
// order is the order keys appear in outbound payloads.
func (m *Manager) Register(reg session.Registrar) {
	reg.AddQueryHandler(KeyGetScene, m.sceneQuery)
	reg.AddResponseHandler(KeyGetScene, m.sceneResponse)
	reg.AddQueryHandler(KeyNewNode, m.newNodeQuery)
	reg.AddResponseHandler(KeyNewNode, m.newNodeResponse)
	reg.AddQueryHandler(KeyDestroyNode, m.destroyNodeQuery)
	reg.AddResponseHandler(KeyDestroyNode, m.destroyNodeResponse)
	reg.AddQueryHandler(KeyNodeRootUpdate, m.rootUpdateQuery)
	reg.AddResponseHandler(KeyNodeRootUpdate, m.rootUpdateResponse)
	reg.AddQueryHandler(KeyNodeNameUpdate, m.nameUpdateQuery)
	reg.AddResponseHandler(KeyNodeNameUpdate, m.nameUpdateResponse)
	reg.AddQueryHandler(KeyNodeLocalTransformUpdate, m.transformUpdateQuery)
	reg.AddResponseHandler(KeyNodeLocalTransformUpdate, m.transformUpdateResponse)
	reg.AddQueryHandler(KeyNewComponent, m.newComponentQuery)
	reg.AddResponseHandler(KeyNewComponent, m.newComponentResponse)
	reg.AddQueryHandler(KeyDestroyComponent, m.destroyComponentQuery)
	reg.AddResponseHandler(KeyDestroyComponent, m.destroyComponentResponse)
	reg.AddQueryHandler(KeyComponentPropertyUpdate, m.propertyUpdateQuery)
	reg.AddResponseHandler(KeyComponentPropertyUpdate, m.propertyUpdateResponse)
	reg.AddQueryHandler(KeySaveScene, m.saveSceneQuery)
	reg.AddQueryHandler(KeyGenLightmaps, m.lightmapsQuery)
	reg.AddResponseHandler(KeyGenLightmaps, m.lightmapsResponse)
}

// nodeRecord is a node as the server describes it. Missing transform fields
// keep their defaults.
type nodeRecord struct {
	ID   NodeID `json:"id"`
	Name string `json:"name"`
	Root NodeID `json:"root"`
	Transform
}

func decodeNodeRecord(raw json.RawMessage) (nodeRecord, error) {
	rec := nodeRecord{Transform: IdentityTransform()}
	err := json.Unmarshal(raw, &rec)
	return rec, err
}

type newNodeRequest struct {
	Name string `json:"name"`
}

func isNull(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func sortedIDs[V any](m map[NodeID]V) []NodeID {
	ids := make([]NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
