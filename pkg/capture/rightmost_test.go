package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordCountFromSpine(t *testing.T) {
	assert := assert.New(t)

	path := &rightmostPath{}
	assert.Equal(uint64(0), path.recordCount(2))

	// One leaf child is one record.
	path.node(1).addChild(DataCoordinates{BlockPos: 100, Offset: 0})
	assert.Equal(uint64(1), path.recordCount(2))

	// A height-2 child roots a perfect subtree of fan_out records, a
	// height-3 child fan_out^2.
	path.node(2).addChild(DataCoordinates{BlockPos: 100, Offset: 12})
	path.node(3).addChild(DataCoordinates{BlockPos: 100, Offset: 24})
	assert.Equal(uint64(1+2+4), path.recordCount(2))
	assert.Equal(3, path.levels())
	assert.Equal(3, path.childTotal())
}

func TestRightmostPathCodec(t *testing.T) {
	assert := assert.New(t)

	path := &rightmostPath{}
	path.node(1).addChild(DataCoordinates{BlockPos: 4096, Offset: 10})
	path.node(1).addChild(DataCoordinates{BlockPos: 4096, Offset: 99})
	path.node(3).addChild(DataCoordinates{BlockPos: 8192, Offset: 0})

	buf := make([]byte, path.encodedSize())
	n := path.encodeTo(buf)
	assert.Equal(len(buf), n)

	decoded, ok := decodeRightmostPath(buf)
	assert.True(ok)
	assert.Equal(3, decoded.levels())
	assert.Equal(path.nodes[0].children, decoded.nodes[0].children)
	// Height 2 was empty and emits nothing, but decoding recreates the
	// level because height 3 is present.
	assert.Equal(0, decoded.nodes[1].count())
	assert.Equal(path.nodes[2].children, decoded.nodes[2].children)
}

func TestRightmostPathCodecRejectsTruncated(t *testing.T) {
	assert := assert.New(t)

	path := &rightmostPath{}
	path.node(1).addChild(DataCoordinates{BlockPos: 1, Offset: 2})
	buf := make([]byte, path.encodedSize())
	path.encodeTo(buf)

	_, ok := decodeRightmostPath(buf[:len(buf)-1])
	assert.False(ok)
	_, ok = decodeRightmostPath(nil)
	assert.False(ok)
}

func TestRightmostPathClone(t *testing.T) {
	assert := assert.New(t)

	path := &rightmostPath{}
	path.node(1).addChild(DataCoordinates{BlockPos: 7, Offset: 7})

	snapshot := path.clone()
	path.node(1).addChild(DataCoordinates{BlockPos: 8, Offset: 8})
	path.node(1).reset()

	assert.Equal(1, snapshot.node(1).count())
	assert.Equal(DataCoordinates{BlockPos: 7, Offset: 7}, snapshot.node(1).children[0])
}
