package scene

import (
	"math"
	"strconv"
)

// NodeID is the identity the server knows a node by. Positive ids are
// assigned by the server, negative ids are local placeholders awaiting a
// new_node acknowledgment.
type NodeID int64

const NullID NodeID = 0

func (id NodeID) IsReal() bool { return id > NullID }

func (id NodeID) IsFake() bool { return id < NullID }

func (id NodeID) String() string { return strconv.FormatInt(int64(id), 10) }

// NodeKey is a node's arena handle. Unlike NodeID it never changes, so it is
// what every internal table is keyed by.
type NodeKey uint64

const noKey NodeKey = 0

type Vec3 [3]float64

type Quat [4]float64

// Transform is a node's transform relative to its root.
type Transform struct {
	Position Vec3 `json:"lpos"`
	Rotation Quat `json:"lrot"`
	Scale    Vec3 `json:"lscale"`
}

func IdentityTransform() Transform {
	return Transform{
		Rotation: Quat{0, 0, 0, 1},
		Scale:    Vec3{1, 1, 1},
	}
}

func (t Transform) Valid() bool {
	for _, f := range [...]float64{
		t.Position[0], t.Position[1], t.Position[2],
		t.Rotation[0], t.Rotation[1], t.Rotation[2], t.Rotation[3],
		t.Scale[0], t.Scale[1], t.Scale[2],
	} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Node is a positioned entity in the scene graph. Name and Transform may be
// edited directly as long as the matching Mark*Dirty call follows; the root
// is changed through Manager.SetRoot.
type Node struct {
	key       NodeKey
	id        NodeID
	fakeID    NodeID
	root      NodeKey
	destroyed bool

	Name      string
	Transform Transform

	// UserData belongs to the host. It is never read by the scene and must not
	// be relied on after the node's destroy hook has run.
	UserData any
}

func (n *Node) ID() NodeID { return n.id }

// FakeID is the placeholder id the node was created with locally, or NullID
// for nodes that arrived from the server.
func (n *Node) FakeID() NodeID { return n.fakeID }

func (n *Node) Key() NodeKey { return n.key }

func (n *Node) IsReal() bool { return n.id.IsReal() }

func (n *Node) IsFake() bool { return n.id.IsFake() }

func (n *Node) Destroyed() bool { return n.destroyed }
