package msc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/softmsc/pkg"
)

func TestCBW_Layout(t *testing.T) {
	tests := []struct {
		name string
		cdb  CDB
		in   bool
	}{
		{"test unit ready", TestUnitReadyCDB(), false},
		{"inquiry", InquiryCDB(InquiryStandardSize), true},
		{"read capacity", ReadCapacity10CDB(), true},
		{"read", Read10CDB(0x01020304, 8), true},
		{"write", Write10CDB(0x01020304, 8), false},
		{"format", FormatUnitCDB(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cbw := NewCBW(0xDEADBEEF, 4096, tt.in, 3, tt.cdb)
			buf := make([]byte, 64)

			if n := cbw.MarshalTo(buf); n != CBWSize {
				t.Fatalf("MarshalTo() = %d, want %d", n, CBWSize)
			}
			if !bytes.Equal(buf[0:4], []byte{0x55, 0x53, 0x42, 0x43}) {
				t.Errorf("signature = % x, want 55 53 42 43", buf[0:4])
			}
			if !bytes.Equal(buf[4:8], []byte{0xEF, 0xBE, 0xAD, 0xDE}) {
				t.Errorf("tag = % x", buf[4:8])
			}
			if !bytes.Equal(buf[8:12], []byte{0x00, 0x10, 0x00, 0x00}) {
				t.Errorf("length = % x", buf[8:12])
			}
			if got := buf[12]&0x80 != 0; got != tt.in {
				t.Errorf("direction bit = %v, want %v", got, tt.in)
			}
			if buf[13] != 3 {
				t.Errorf("LUN = %d, want 3", buf[13])
			}
			if buf[14] != CDBLength {
				t.Errorf("CB length = %d, want %d", buf[14], CDBLength)
			}
			if !bytes.Equal(buf[15:25], tt.cdb[:]) {
				t.Errorf("CB = % x, want % x", buf[15:25], tt.cdb[:])
			}
			if !bytes.Equal(buf[25:31], make([]byte, 6)) {
				t.Errorf("CB padding = % x, want zeros", buf[25:31])
			}
			if buf[31] != 0 {
				t.Error("MarshalTo() wrote past 31 bytes")
			}

			var parsed CommandBlockWrapper
			if !ParseCBW(buf, &parsed) || parsed != *cbw {
				t.Errorf("ParseCBW() = %+v, want %+v", parsed, *cbw)
			}
		})
	}
}

func TestCBW_MarshalShortBuffer(t *testing.T) {
	cbw := NewCBW(1, 0, false, 0, TestUnitReadyCDB())
	if n := cbw.MarshalTo(make([]byte, CBWSize-1)); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestParseCSW(t *testing.T) {
	good := []byte{
		0x55, 0x53, 0x42, 0x53, // USBS
		0x07, 0x00, 0x00, 0x00, // tag
		0x00, 0x02, 0x00, 0x00, // residue 512
		0x01, // failed
	}

	var csw CommandStatusWrapper
	if err := ParseCSW(good, &csw); err != nil {
		t.Fatalf("ParseCSW() error = %v", err)
	}
	if csw.Tag != 7 || csw.DataResidue != 512 || csw.Status != CSWStatusFailed {
		t.Errorf("ParseCSW() = %+v", csw)
	}

	bad := append([]byte(nil), good...)
	bad[3] = 0x43
	if err := ParseCSW(bad, &csw); !errors.Is(err, ErrBadSignature) {
		t.Errorf("ParseCSW(bad signature) error = %v, want ErrBadSignature", err)
	}
	if err := ParseCSW(good[:12], &csw); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("ParseCSW(short) error = %v, want ErrBufferTooSmall", err)
	}
}

func TestCSW_Err(t *testing.T) {
	tests := []struct {
		status uint8
		want   error
	}{
		{CSWStatusGood, nil},
		{CSWStatusFailed, ErrCommandFailed},
		{CSWStatusPhaseError, ErrPhaseError},
		{0x03, pkg.ErrProtocol},
	}

	for _, tt := range tests {
		csw := CommandStatusWrapper{Signature: CSWSignature, Status: tt.status}
		err := csw.Err()
		if tt.want == nil {
			if err != nil {
				t.Errorf("status %d: Err() = %v, want nil", tt.status, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: Err() = %v, want %v", tt.status, err, tt.want)
		}
	}
}
