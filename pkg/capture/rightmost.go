package capture

import "encoding/binary"

// rightmostNode is the one mutable node at a level of the record index.
// Every other node at its level is full and immutable on disk. When a
// rightmostNode reaches fan_out children it is emitted into the compression
// stream as a full node, reset, and registered as a child of the level
// above.
type rightmostNode struct {
	children []DataCoordinates
}

func (n *rightmostNode) addChild(c DataCoordinates) {
	n.children = append(n.children, c)
}

func (n *rightmostNode) count() int {
	return len(n.children)
}

func (n *rightmostNode) reset() {
	n.children = n.children[:0]
}

// rightmostPath is the right spine of the index: one rightmostNode per
// level, leaf first. It lives in the master node and is the only part of
// the index ever rewritten.
type rightmostPath struct {
	nodes []*rightmostNode
}

// node returns the rightmost node at the given height (1 = record leaf),
// creating empty levels as needed. Empty levels are absent from the encoded
// form since a node with no children emits nothing.
func (p *rightmostPath) node(height int) *rightmostNode {
	for len(p.nodes) < height {
		p.nodes = append(p.nodes, &rightmostNode{})
	}
	return p.nodes[height-1]
}

func (p *rightmostPath) levels() int {
	return len(p.nodes)
}

func (p *rightmostPath) childTotal() int {
	total := 0
	for _, n := range p.nodes {
		total += n.count()
	}
	return total
}

// recordCount derives the number of records from the spine alone: a child
// of a height-h node roots a perfect subtree of fan_out^(h-1) records.
func (p *rightmostPath) recordCount(fanOut int) uint64 {
	var (
		power = uint64(1)
		total = uint64(0)
	)
	for _, n := range p.nodes {
		total += uint64(n.count()) * power
		power *= uint64(fanOut)
	}
	return total
}

func (p *rightmostPath) clone() *rightmostPath {
	out := &rightmostPath{nodes: make([]*rightmostNode, len(p.nodes))}
	for i, n := range p.nodes {
		out.nodes[i] = &rightmostNode{children: append([]DataCoordinates(nil), n.children...)}
	}
	return out
}

// encodedSize is the number of bytes encodeTo will produce.
func (p *rightmostPath) encodedSize() int {
	return 4 + p.childTotal()*fullNodeEntrySize
}

// encodeTo writes the spine into b: a u32 total child count followed by one
// (height, coordinates) entry per child, root level first. Returns the
// number of bytes written.
func (p *rightmostPath) encodeTo(b []byte) int {
	binary.LittleEndian.PutUint32(b, uint32(p.childTotal()))
	off := 4
	for height := len(p.nodes); height >= 1; height-- {
		for _, c := range p.nodes[height-1].children {
			b[off] = byte(height)
			c.encode(b[off+1:])
			off += fullNodeEntrySize
		}
	}
	return off
}

// decodeRightmostPath rebuilds the spine from its encoded form. Entry order
// does not matter since every child carries its node's height.
func decodeRightmostPath(b []byte) (*rightmostPath, bool) {
	if len(b) < 4 {
		return nil, false
	}
	count := int(binary.LittleEndian.Uint32(b))
	if len(b) < 4+count*fullNodeEntrySize {
		return nil, false
	}
	path := &rightmostPath{}
	off := 4
	for i := 0; i < count; i++ {
		height := int(b[off])
		if height < 1 {
			return nil, false
		}
		path.node(height).addChild(decodeCoordinates(b[off+1:]))
		off += fullNodeEntrySize
	}
	return path, true
}
