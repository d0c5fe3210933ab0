package usbid

import (
	"bufio"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/pkg"
)

// DefaultPaths lists the usual locations of usb.ids, relative to the root
// of the filesystem passed to Open.
var DefaultPaths = []string{
	"usr/share/hwdata/usb.ids",
	"var/lib/usbutils/usb.ids",
	"usr/share/misc/usb.ids",
}

// Database maps vendor and product IDs to names. The zero value is an
// empty database. A Database is read-only after Parse returns and safe for
// concurrent lookups.
type Database struct {
	vendors  map[uint16]string
	products map[uint32]string
}

// Open parses the first of paths that exists in fsys.
func Open(fsys fs.FS, paths ...string) (*Database, error) {
	for _, name := range paths {
		f, err := fsys.Open(name)
		if err != nil {
			continue
		}
		db, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", name)
		}
		return db, nil
	}
	return nil, errors.Wrapf(pkg.ErrNotSupported, "no usb.ids in %v", paths)
}

// Parse reads a database in usb.ids format.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}

	var vendor uint16
	inVendor := false
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '\t' {
			if !inVendor || strings.HasPrefix(line, "\t\t") {
				continue
			}
			if id, name, ok := entry(line[1:]); ok {
				db.products[key(vendor, id)] = name
			}
			continue
		}
		// A top-level line either starts a vendor or a section such as
		// "C 08  Mass Storage" that ends the vendor list.
		id, name, ok := entry(line)
		inVendor = ok
		if ok {
			vendor = id
			db.vendors[id] = name
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan usb.ids")
	}
	return db, nil
}

// entry splits "xxxx  Name".
func entry(line string) (uint16, string, bool) {
	if len(line) < 6 || line[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(line[5:]), true
}

func key(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}

// Vendor returns the name of vid, or "" if unknown.
func (db *Database) Vendor(vid uint16) string {
	if db == nil {
		return ""
	}
	return db.vendors[vid]
}

// Product returns the name of the vid:pid product, or "" if unknown.
func (db *Database) Product(vid, pid uint16) string {
	if db == nil {
		return ""
	}
	return db.products[key(vid, pid)]
}

// Len returns the number of vendors and products known.
func (db *Database) Len() (vendors, products int) {
	if db == nil {
		return 0, 0
	}
	return len(db.vendors), len(db.products)
}
