package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterNode(cfg fileConfig) *masterNode {
	path := &rightmostPath{}
	path.node(1).addChild(DataCoordinates{BlockPos: uint64(cfg.dataStart), Offset: 6})
	path.node(2).addChild(DataCoordinates{BlockPos: uint64(cfg.dataStart), Offset: 40})

	lastPage := make([]byte, cfg.pageSize)
	copy(lastPage, "tail of the data region")

	return &masterNode{
		serial:    7,
		fileLimit: cfg.dataStart + 1234,
		metadata:  DataCoordinates{BlockPos: uint64(cfg.dataStart), Offset: 20},
		path:      path,
		lastPage:  lastPage,
		block:     []byte("staged but uncompressed bytes"),
	}
}

func TestMasterNodeRoundTrip(t *testing.T) {
	var (
		assert = assert.New(t)
		cfg    = newFileConfig(512, 128, 4)
		master = testMasterNode(cfg)
	)

	slot, err := master.encode(cfg)
	require.NoError(t, err)
	assert.Equal(cfg.masterSize, int64(len(slot)))

	decoded := decodeMaster(slot, cfg)
	require.NotNil(t, decoded)

	assert.Equal(master.serial, decoded.serial)
	assert.Equal(master.fileLimit, decoded.fileLimit)
	assert.Equal(master.metadata, decoded.metadata)
	assert.Equal(master.block, decoded.block)
	assert.Equal(master.lastPage, decoded.lastPage)
	assert.Equal(2, decoded.path.levels())
	assert.Equal(master.path.nodes[0].children, decoded.path.nodes[0].children)
	assert.Equal(master.path.nodes[1].children, decoded.path.nodes[1].children)
}

func TestMasterNodeCRCDetectsCorruption(t *testing.T) {
	var (
		assert = assert.New(t)
		cfg    = newFileConfig(512, 128, 4)
		master = testMasterNode(cfg)
	)

	slot, err := master.encode(cfg)
	require.NoError(t, err)

	// Any flipped bit anywhere in the slot must invalidate it, including
	// the partial-page copy and the staged block region.
	for _, off := range []int{5, 17, int(cfg.pageSize) + 3, 2*int(cfg.pageSize) + 1} {
		corrupted := append([]byte(nil), slot...)
		corrupted[off] ^= 0x40
		assert.Nil(decodeMaster(corrupted, cfg), "corruption at %d went undetected", off)
	}

	assert.Nil(decodeMaster(slot[:len(slot)-1], cfg))
}

func TestMasterNodeEncodeRejectsOverflow(t *testing.T) {
	var (
		cfg    = newFileConfig(512, 128, 4)
		master = testMasterNode(cfg)
	)

	// More path children than a page can hold.
	for i := 0; i < cfg.pageSize/fullNodeEntrySize; i++ {
		master.path.node(1).addChild(DataCoordinates{BlockPos: 1, Offset: uint32(i)})
	}
	_, err := master.encode(cfg)
	assert.Error(t, err)
}

func TestSerialNewer(t *testing.T) {
	assert := assert.New(t)

	assert.True(serialNewer(2, 1))
	assert.False(serialNewer(1, 2))
	assert.False(serialNewer(5, 5))

	// Wrap-around: 0 follows 0xFFFFFFFF.
	assert.True(serialNewer(0, 0xFFFFFFFF))
	assert.False(serialNewer(0xFFFFFFFF, 0))
}

func TestPickMaster(t *testing.T) {
	assert := assert.New(t)

	older := &masterNode{serial: 9}
	newer := &masterNode{serial: 10}

	assert.Equal(newer, pickMaster(older, newer))
	assert.Equal(newer, pickMaster(newer, older))
	assert.Equal(older, pickMaster(older, nil))
	assert.Equal(older, pickMaster(nil, older))
	assert.Nil(pickMaster(nil, nil))
}
