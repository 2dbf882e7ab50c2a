package gdt

import "testing"

func TestDescriptorEncoding(t *testing.T) {
	cases := []struct {
		name    string
		access  uint8
		flags   uint8
		want    uint64
	}{
		{"null", 0, 0, 0},
		{"code64", accessPresent | accessS | accessExec | accessRW, flagLongCode, 0x00209a0000000000},
		{"data", accessPresent | accessS | accessRW, 0, 0x0000920000000000},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := descriptor(c.access, c.flags); got != c.want {
				t.Fatalf("descriptor(0x%x, 0x%x) = 0x%x, want 0x%x", c.access, c.flags, got, c.want)
			}
		})
	}
}

func TestBuildThreeDescriptors(t *testing.T) {
	var tbl Table
	tbl.Build()

	if tbl.entries[0] != 0 {
		t.Fatalf("null descriptor not zero: 0x%x", tbl.entries[0])
	}
	if tbl.entries[1] == 0 {
		t.Fatalf("code descriptor not populated")
	}
	if tbl.entries[2] == 0 {
		t.Fatalf("data descriptor not populated")
	}
	if tbl.ptr.limit != uint16(len(tbl.entries)*8-1) {
		t.Fatalf("unexpected pseudo-descriptor limit: %d", tbl.ptr.limit)
	}
}
