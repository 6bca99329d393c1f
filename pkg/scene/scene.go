// Package scene holds the transform hierarchy that places meshes in the
// working frame. Each node carries a local position, Euler rotation in
// degrees and scale; world matrices are cached and only change when
// UpdateWorldMatrix is called.
package scene

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/xform"
)

// Node is one entry in the scene hierarchy. A node without a mesh acts as a
// group.
type Node struct {
	Name     string
	Position r3.Vec
	Rotation r3.Vec // Euler angles in degrees, applied in XYZ order
	Scale    r3.Vec
	Mesh     *kernel.Mesh

	parent   *Node
	children []*Node
	world    xform.Mat4
}

// NewNode returns a node with identity transform.
func NewNode(name string, mesh *kernel.Mesh) *Node {
	return &Node{
		Name:  name,
		Scale: r3.Vec{X: 1, Y: 1, Z: 1},
		Mesh:  mesh,
		world: xform.Identity(),
	}
}

// Add attaches child under n, detaching it from any previous parent.
func (n *Node) Add(child *Node) error {
	for p := n; p != nil; p = p.parent {
		if p == child {
			return fmt.Errorf("scene: adding %q under %q would create a cycle", child.Name, n.Name)
		}
	}
	if child.parent != nil {
		child.parent.Remove(child)
	}
	child.parent = n
	n.children = append(n.children, child)
	return nil
}

// Remove detaches child from n. It reports whether child was found.
func (n *Node) Remove(child *Node) bool {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the direct children in insertion order.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

// LocalMatrix composes the node's own translation, rotation and scale.
func (n *Node) LocalMatrix() xform.Mat4 {
	return xform.Compose(n.Position, n.Rotation, n.Scale)
}

// WorldMatrix returns the cached world matrix from the last
// UpdateWorldMatrix call.
func (n *Node) WorldMatrix() xform.Mat4 {
	return n.world
}

// UpdateWorldMatrix refreshes the world matrices of n's ancestors, n itself
// and all of n's descendants.
func (n *Node) UpdateWorldMatrix() {
	var chain []*Node
	for p := n; p != nil; p = p.parent {
		chain = append(chain, p)
	}

	world := xform.Identity()
	for i := len(chain) - 1; i >= 0; i-- {
		world = world.Mul(chain[i].LocalMatrix())
		chain[i].world = world
	}
	for _, c := range n.children {
		c.updateSubtree(world)
	}
}

func (n *Node) updateSubtree(parentWorld xform.Mat4) {
	n.world = parentWorld.Mul(n.LocalMatrix())
	for _, c := range n.children {
		c.updateSubtree(n.world)
	}
}

// ResetTransform sets the local transform to identity. The cached world
// matrix is left alone until the next UpdateWorldMatrix.
func (n *Node) ResetTransform() {
	n.Position = r3.Vec{}
	n.Rotation = r3.Vec{}
	n.Scale = r3.Vec{X: 1, Y: 1, Z: 1}
}

// Walk visits n and its descendants depth-first, parents before children.
// A non-nil error from fn stops the walk.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, c := range n.children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the first node named name in n's subtree.
func (n *Node) Find(name string) *Node {
	var found *Node
	_ = n.Walk(func(c *Node) error {
		if c.Name == name {
			found = c
			return errStop
		}
		return nil
	})
	return found
}

var errStop = errors.New("scene: stop walk")
