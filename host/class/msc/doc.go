// Package msc implements a host-side USB Mass Storage Class driver using
// the Bulk-Only Transport (BOT) protocol with the SCSI transparent command
// set.
//
// # Architecture
//
// The driver is an asynchronous command engine on top of the host
// transfer layer:
//
//  1. Device Lifecycle - finds the bulk endpoints, claims the interface,
//     allocates a fixed pool of transfers
//  2. Command Session - submits the command, data and status phases of one
//     command and wakes the blocked caller when the status arrives
//  3. Transfer Classifier - names a completion by its length and leading
//     bytes for the user hooks
//  4. Discovery - GET MAX LUN, READ CAPACITY per LUN, INQUIRY
//  5. Block Device - capacity queries, READ/WRITE (10), mount hand-off
//
// # Bulk-Only Transport (BOT) Protocol
//
// Each command runs in three phases:
//
//  1. Command Phase - Host sends Command Block Wrapper (CBW)
//  2. Data Phase - Optional transfer in the command's direction
//  3. Status Phase - Device sends Command Status Wrapper (CSW)
//
// Every submitted transfer carries the phase and command it belongs to.
// The completion callback advances the device state along a fixed
// transition table and submits the next phase from the completion
// goroutine. Only the status phase wakes the caller.
//
// # Timeouts
//
// A caller that stops waiting does not cancel the transfer. Its remaining
// completions are recognized by tag as stale: they are counted and logged,
// a late READ CAPACITY payload still updates its own LUN, and nothing
// else changes.
//
// # SCSI Command Support
//
//   - TEST UNIT READY
//   - INQUIRY
//   - READ CAPACITY (10)
//   - READ (10) (one block returned per call)
//   - WRITE (10)
//   - FORMAT UNIT
//
// # Example
//
//	dev, err := msc.New(usbDev.RawConfiguration(), usbDev, msc.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	if err := dev.Init(ctx); err != nil {
//	    return err
//	}
//	buf := make([]byte, dev.BlockSize(0))
//	err = dev.Read10(ctx, 0, 0, 1, buf)
package msc
