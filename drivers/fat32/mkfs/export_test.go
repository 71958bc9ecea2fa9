package mkfs

import (
	"github.com/ringos/ringfs/drivers/common"
	"github.com/ringos/ringfs/drivers/fat32"
)

// InjectFaults routes the builder's sector I/O through a FaultyDevice.
func (b *Builder) InjectFaults() *common.FaultyDevice {
	faulty := common.NewFaultyDevice(b.device)
	b.target = faulty
	b.table = fat32.NewTable(faulty, b.layout, b.log)
	return faulty
}
