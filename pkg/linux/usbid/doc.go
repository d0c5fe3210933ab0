// Package usbid resolves USB vendor and product IDs to names using the
// usb.ids database shipped by most Linux distributions.
//
//	db, err := usbid.Open(os.DirFS("/"), usbid.DefaultPaths...)
//	if err == nil {
//	    fmt.Println(db.Vendor(0x0781), db.Product(0x0781, 0x5551))
//	}
//
// Only vendor and product lines are kept; device class, HID and language
// sections are skipped.
package usbid
