package scanner

import (
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/probeplot/probeplot-go/pkg/logstream"
)

const opAddr = 0x03 // DW_OP_addr

// LoadLocations builds the log location table from the DWARF variables
// placed in the given section. An image without the section or without
// debug information yields an empty table.
func LoadLocations(f *elf.File, section string) (logstream.Table, error) {
	table := make(logstream.Table)
	sec := f.Section(section)
	if sec == nil || f.Section(".debug_info") == nil {
		return table, nil
	}
	lo, hi := sec.Addr, sec.Addr+sec.Size

	d, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("load debug info: %w", err)
	}

	r := d.Reader()
	var files []*dwarf.LineFile
	var scopes []string // enclosing namespace names, "" for other scopes
	for {
		e, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("read debug info: %w", err)
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			if len(scopes) > 0 {
				scopes = scopes[:len(scopes)-1]
			}
			continue
		}

		switch e.Tag {
		case dwarf.TagCompileUnit:
			scopes = scopes[:0]
			files = nil
			if lr, err := d.LineReader(e); err == nil && lr != nil {
				files = lr.Files()
			}
		case dwarf.TagVariable:
			addr, ok := variableAddr(e, r.AddressSize(), f.ByteOrder)
			if ok && addr >= lo && addr < hi {
				table[addr] = logstream.Location{
					File:   fileName(files, e),
					Line:   intAttr(e, dwarf.AttrDeclLine),
					Module: modulePath(scopes),
				}
			}
		}

		if e.Children {
			name := ""
			if e.Tag == dwarf.TagNamespace {
				name, _ = e.Val(dwarf.AttrName).(string)
			}
			scopes = append(scopes, name)
		}
	}
	return table, nil
}

func variableAddr(e *dwarf.Entry, size int, order binary.ByteOrder) (uint64, bool) {
	loc, ok := e.Val(dwarf.AttrLocation).([]byte)
	if !ok || len(loc) != 1+size || loc[0] != opAddr {
		return 0, false
	}
	switch size {
	case 4:
		return uint64(order.Uint32(loc[1:])), true
	case 8:
		return order.Uint64(loc[1:]), true
	default:
		return 0, false
	}
}

func fileName(files []*dwarf.LineFile, e *dwarf.Entry) string {
	idx := intAttr(e, dwarf.AttrDeclFile)
	if idx <= 0 || idx >= len(files) || files[idx] == nil {
		return "?"
	}
	return files[idx].Name
}

func intAttr(e *dwarf.Entry, attr dwarf.Attr) int {
	switch v := e.Val(attr).(type) {
	case int64:
		return int(v)
	case uint64:
		return int(v)
	default:
		return 0
	}
}

func modulePath(scopes []string) string {
	parts := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "::")
}
