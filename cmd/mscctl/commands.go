//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/efficientgo/core/errors"
	"github.com/spf13/viper"

	"github.com/ardnew/softmsc/host/class/msc"
	"github.com/ardnew/softmsc/host/hal/linux"
	"github.com/ardnew/softmsc/pkg"
	"github.com/ardnew/softmsc/pkg/linux/usbid"
)

// command runs against a discovered device.
type command func(ctx context.Context, d *msc.Device) error

// commands maps command names to their actions. "list" runs without a
// device and has no entry body.
var commands = map[string]command{
	"list":   nil,
	"info":   infoCommand,
	"ready":  readyCommand,
	"read":   readCommand,
	"write":  writeCommand,
	"format": formatCommand,
	"reset":  resetCommand,
}

func listDevices(w io.Writer) error {
	devices, err := linux.FindMassStorage(os.DirFS(linux.SysfsUSBPath))
	if err != nil {
		return errors.Wrap(err, "scan for mass storage devices")
	}
	// Without a usb.ids database the names sysfs reports are used as is.
	ids, _ := usbid.Open(os.DirFS("/"), usbid.DefaultPaths...)
	return printDevices(w, devices, ids)
}

// printDevices writes one row per mass storage interface. Names missing
// from the device's string descriptors are looked up in ids.
func printDevices(w io.Writer, devices []linux.DeviceInfo, ids *usbid.Database) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tID\tSPEED\tIFACE\tDRIVER\tPRODUCT")
	for _, dev := range devices {
		vendor, product := dev.Manufacturer, dev.Product
		if vendor == "" {
			vendor = ids.Vendor(dev.VendorID)
		}
		if product == "" {
			product = ids.Product(dev.VendorID, dev.ProductID)
		}
		for _, iface := range dev.MassStorageInterfaces() {
			driver := iface.Driver
			if driver == "" {
				driver = "-"
			}
			fmt.Fprintf(tw, "%s\t%04x:%04x\t%s\t%d\t%s\t%s %s\n",
				dev.DevfsPath, dev.VendorID, dev.ProductID, dev.Speed,
				iface.Number, driver, vendor, product)
		}
	}
	return tw.Flush()
}

// deviceReport is the JSON document printed by the info command.
type deviceReport struct {
	Vendor    string      `json:"vendor"`
	Product   string      `json:"product"`
	Revision  string      `json:"revision"`
	Removable bool        `json:"removable"`
	LUNs      []lunReport `json:"luns"`
}

type lunReport struct {
	LUN       uint8  `json:"lun"`
	Blocks    uint32 `json:"blocks"`
	BlockSize uint32 `json:"block_size"`
	Bytes     uint64 `json:"bytes"`
}

func report(d *msc.Device) deviceReport {
	inq := d.InquiryData()
	r := deviceReport{
		Vendor:    inq.Vendor,
		Product:   inq.Product,
		Revision:  inq.Revision,
		Removable: inq.Removable,
	}
	for lun := 0; lun < d.LUNCount(); lun++ {
		c, err := d.Capacity(uint8(lun))
		if err != nil {
			continue
		}
		r.LUNs = append(r.LUNs, lunReport{
			LUN:       uint8(lun),
			Blocks:    c.BlockCount,
			BlockSize: c.BlockSize,
			Bytes:     c.Bytes(),
		})
	}
	return r
}

func infoCommand(_ context.Context, d *msc.Device) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report(d))
}

func readyCommand(ctx context.Context, d *msc.Device) error {
	return d.TestUnitReady(ctx)
}

func readCommand(ctx context.Context, d *msc.Device) error {
	lun, err := configuredLUN()
	if err != nil {
		return err
	}
	bd, err := d.BlockDevice(ctx, lun)
	if err != nil {
		return err
	}
	out := io.Writer(os.Stdout)
	if name := viper.GetString("output"); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return errors.Wrap(err, "create output")
		}
		defer f.Close()
		out = f
	}
	off := int64(viper.GetUint32("lba")) * bd.BlockSize()
	size := int64(viper.GetUint32("count")) * bd.BlockSize()
	_, err = copyBlocks(out, io.NewSectionReader(bd, off, size))
	return err
}

func writeCommand(ctx context.Context, d *msc.Device) error {
	lun, err := configuredLUN()
	if err != nil {
		return err
	}
	bd, err := d.BlockDevice(ctx, lun)
	if err != nil {
		return err
	}
	in := io.Reader(os.Stdin)
	if name := viper.GetString("input"); name != "" {
		f, err := os.Open(name)
		if err != nil {
			return errors.Wrap(err, "open input")
		}
		defer f.Close()
		in = f
	}
	off := int64(viper.GetUint32("lba")) * bd.BlockSize()
	_, err = copyBlocks(io.NewOffsetWriter(bd, off), in)
	return err
}

func copyBlocks(dst io.Writer, src io.Reader) (int64, error) {
	n, err := io.Copy(dst, src)
	if err != nil {
		return n, errors.Wrapf(err, "copy after %d bytes", n)
	}
	return n, nil
}

func formatCommand(ctx context.Context, d *msc.Device) error {
	lun, err := configuredLUN()
	if err != nil {
		return err
	}
	return d.Format(ctx, lun)
}

// configuredLUN reads the lun setting, which may come from a flag, the
// config file or the environment.
func configuredLUN() (uint8, error) {
	lun := viper.GetUint("lun")
	if lun > math.MaxUint8 {
		return 0, errors.Wrapf(pkg.ErrInvalidParameter, "lun %d", lun)
	}
	return uint8(lun), nil
}

func resetCommand(ctx context.Context, d *msc.Device) error {
	return d.Reset(ctx)
}
