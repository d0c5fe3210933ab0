// Package host implements the host side of a USB transfer layer.
//
// It is platform-agnostic and interacts with hardware via the [hal.HostHAL]
// interface defined in the github.com/ardnew/softmsc/host/hal package.
//
// # Architecture
//
//   - Host owns the HAL, a TransferManager and the one open Device
//   - Device reads descriptors, claims interfaces and submits transfers
//   - TransferManager runs blocking HAL transfers on a worker pool and
//     reports each completion through the transfer's callback
//   - ParseConfiguration turns a configuration descriptor into a tree of
//     interfaces and endpoints
//
// # Transfers
//
// A [Transfer] is a reusable slot. It is allocated once, submitted, and
// completes asynchronously. Submitting a transfer that is still in flight
// fails with pkg.ErrBusy; class drivers treat that as transient and retry.
// Control transfers carry the setup packet in the first eight bytes of
// Data, so a one-byte IN request completes with n = 9.
//
// # Example
//
//	h := host.New(usbfsHAL, host.DefaultWorkers)
//	if err := h.Start(ctx); err != nil {
//	    return err
//	}
//	defer h.Stop()
//
//	dev, err := h.Open(ctx, 1)
//	if err != nil {
//	    return err
//	}
//	cfg := dev.Configuration()
package host
