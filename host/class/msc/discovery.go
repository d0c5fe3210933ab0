package msc

import (
	"context"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/pkg"
)

// Discover runs the startup sequence: GET MAX LUN, READ CAPACITY (10) for
// every LUN in order, INQUIRY, then the Ready callback. Each step starts
// after the previous one's status phase was dispatched. The first failing
// step ends discovery and its error is returned.
//
// With Timeouts.DiscoveryStep zero a step that never completes blocks until
// ctx ends.
func (d *Device) Discover(ctx context.Context) error {
	count, err := d.GetMaxLUN(ctx)
	if err != nil {
		pkg.LogError(pkg.ComponentDiscovery, "max LUN query failed", "error", err)
		return errors.Wrap(err, "discover LUNs")
	}
	pkg.LogDebug(pkg.ComponentDiscovery, "LUNs found", "count", count)

	for lun := 0; lun < count; lun++ {
		c, err := d.ReadCapacity(ctx, uint8(lun))
		if err != nil {
			pkg.LogError(pkg.ComponentDiscovery, "capacity query failed", "lun", lun, "error", err)
			return errors.Wrapf(err, "discover capacity of LUN %d", lun)
		}
		pkg.LogDebug(pkg.ComponentDiscovery, "capacity",
			"lun", lun,
			"blocks", c.BlockCount,
			"block_size", c.BlockSize)
	}

	inq, err := d.Inquiry(ctx)
	if err != nil {
		pkg.LogError(pkg.ComponentDiscovery, "inquiry failed", "error", err)
		return errors.Wrap(err, "discover identity")
	}

	pkg.LogInfo(pkg.ComponentDiscovery, "device ready",
		"luns", count,
		"vendor", inq.Vendor,
		"product", inq.Product,
		"revision", inq.Revision)

	d.mu.Lock()
	ready := d.callbacks.Ready
	d.mu.Unlock()
	if ready != nil {
		ready()
	}
	return nil
}
