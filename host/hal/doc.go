// Package hal defines the Hardware Abstraction Layer interface for the
// softmsc host transfer layer.
//
// The HAL performs blocking control and bulk transfers against one attached
// device and claims or releases its interfaces. The host package wraps it
// with an asynchronous transfer manager; the mass-storage class driver never
// talks to a HAL directly.
//
// # Implementing a HAL
//
// To implement a HAL for a new platform:
//  1. Create a type that implements all [HostHAL] methods
//  2. Open the controller or device node in Init()
//  3. Report endpoint stalls as pkg.ErrStall and timeouts as pkg.ErrTimeout
//  4. Detach competing drivers in ClaimInterface()
//
// # Zero-Allocation Design
//
// HAL implementations should reuse the buffers provided by the transfer
// layer and avoid allocating on the transfer path.
//
// A Linux usbfs implementation is available in
// [github.com/ardnew/softmsc/host/hal/linux].
package hal
