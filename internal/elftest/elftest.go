// Package elftest builds small little-endian ELF32 images for tests: a
// .data section, a log section, a symbol table and optional DWARF debug
// information describing log frame locations.
package elftest

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// Default section addresses.
const (
	DataAddr    = 0x20000000
	LogSection  = ".probe_log"
	DataSection = ".data"
)

const (
	shnUndef = 0
	shnAbs   = 0xfff1

	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3

	shfWrite = 0x1
	shfAlloc = 0x2

	ehSize = 52
	shSize = 40
	stSize = 16
)

// Symbol is a symbol table entry. Section is DataSection, LogSection, or
// empty for an absolute symbol.
type Symbol struct {
	Name    string
	Section string
	Value   uint32
	Size    uint32
}

// Variable is a DWARF variable describing one log frame location.
type Variable struct {
	Namespace []string
	Name      string
	File      int // 1-based index into DebugInfo.Files
	Line      int
	Addr      uint32
}

// DebugInfo is the DWARF content of an image.
type DebugInfo struct {
	Files     []string
	Variables []Variable
}

// Image describes an ELF file.
type Image struct {
	// Data is the content of .data, loaded at DataAddr.
	Data []byte

	// LogAddr and LogSize place the log section.
	LogAddr uint32
	LogSize uint32

	Symbols []Symbol
	Debug   *DebugInfo
}

type section struct {
	name    string
	typ     uint32
	flags   uint32
	addr    uint32
	data    []byte
	link    uint32
	info    uint32
	align   uint32
	entsize uint32
}

// Bytes renders the image.
func (img *Image) Bytes() []byte {
	le := binary.LittleEndian

	sections := []*section{
		{}, // null
		{name: DataSection, typ: shtProgbits, flags: shfAlloc | shfWrite, addr: DataAddr, data: img.Data, align: 4},
		{name: LogSection, typ: shtProgbits, addr: img.LogAddr, data: make([]byte, img.LogSize), align: 1},
	}
	index := map[string]uint16{DataSection: 1, LogSection: 2}

	if img.Debug != nil {
		abbrev, info, line := img.Debug.encode()
		sections = append(sections,
			&section{name: ".debug_abbrev", typ: shtProgbits, data: abbrev, align: 1},
			&section{name: ".debug_info", typ: shtProgbits, data: info, align: 1},
			&section{name: ".debug_line", typ: shtProgbits, data: line, align: 1},
		)
	}

	// Symbol and string tables.
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symtab := make([]byte, stSize) // null symbol
	for _, s := range img.Symbols {
		nameOff := uint32(strtab.Len())
		strtab.WriteString(s.Name)
		strtab.WriteByte(0)

		shndx := uint16(shnAbs)
		if s.Section != "" {
			shndx = index[s.Section]
			if shndx == 0 {
				shndx = shnUndef
			}
		}
		ent := make([]byte, stSize)
		le.PutUint32(ent[0:], nameOff)
		le.PutUint32(ent[4:], s.Value)
		le.PutUint32(ent[8:], s.Size)
		ent[12] = 1<<4 | 1 // STB_GLOBAL, STT_OBJECT
		le.PutUint16(ent[14:], shndx)
		symtab = append(symtab, ent...)
	}
	symtabIdx := uint32(len(sections))
	sections = append(sections,
		&section{name: ".symtab", typ: shtSymtab, data: symtab, link: symtabIdx + 1, info: 1, align: 4, entsize: stSize},
		&section{name: ".strtab", typ: shtStrtab, data: strtab.Bytes(), align: 1},
	)

	// Section name table.
	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameOffs := make([]uint32, len(sections)+1)
	sections = append(sections, &section{name: ".shstrtab", typ: shtStrtab, align: 1})
	for i, s := range sections {
		if s.name == "" {
			continue
		}
		nameOffs[i] = uint32(shstrtab.Len())
		shstrtab.WriteString(s.name)
		shstrtab.WriteByte(0)
	}
	sections[len(sections)-1].data = shstrtab.Bytes()

	// Lay out section contents after the header.
	var body bytes.Buffer
	body.Write(make([]byte, ehSize))
	offsets := make([]uint32, len(sections))
	for i, s := range sections {
		if i == 0 {
			continue
		}
		for body.Len()%4 != 0 {
			body.WriteByte(0)
		}
		offsets[i] = uint32(body.Len())
		body.Write(s.data)
	}
	for body.Len()%4 != 0 {
		body.WriteByte(0)
	}
	shoff := uint32(body.Len())

	for i, s := range sections {
		sh := make([]byte, shSize)
		if i > 0 {
			le.PutUint32(sh[0:], nameOffs[i])
			le.PutUint32(sh[4:], s.typ)
			le.PutUint32(sh[8:], s.flags)
			le.PutUint32(sh[12:], s.addr)
			le.PutUint32(sh[16:], offsets[i])
			le.PutUint32(sh[20:], uint32(len(s.data)))
			le.PutUint32(sh[24:], s.link)
			le.PutUint32(sh[28:], s.info)
			le.PutUint32(sh[32:], s.align)
			le.PutUint32(sh[36:], s.entsize)
		}
		body.Write(sh)
	}

	out := body.Bytes()
	copy(out[0:], []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
	le.PutUint16(out[16:], 2)  // ET_EXEC
	le.PutUint16(out[18:], 40) // EM_ARM
	le.PutUint32(out[20:], 1)  // EV_CURRENT
	le.PutUint32(out[32:], shoff)
	le.PutUint32(out[36:], 0x05000200) // EABI5, hard float
	le.PutUint16(out[40:], ehSize)
	le.PutUint16(out[42:], 32)
	le.PutUint16(out[46:], shSize)
	le.PutUint16(out[48:], uint16(len(sections)))
	le.PutUint16(out[50:], uint16(len(sections)-1))
	return out
}

// DWARF constants used by the encoder.
const (
	tagCompileUnit = 0x11
	tagNamespace   = 0x39
	tagVariable    = 0x34

	atName     = 0x03
	atLocation = 0x02
	atStmtList = 0x10
	atDeclFile = 0x3a
	atDeclLine = 0x3b

	formString    = 0x08
	formUdata     = 0x0f
	formExprloc   = 0x18
	formSecOffset = 0x17

	opAddr = 0x03
)

func (d *DebugInfo) encode() (abbrev, info, line []byte) {
	le := binary.LittleEndian

	var ab bytes.Buffer
	writeAbbrev := func(code, tag byte, children bool, attrs ...byte) {
		ab.WriteByte(code)
		ab.WriteByte(tag)
		if children {
			ab.WriteByte(1)
		} else {
			ab.WriteByte(0)
		}
		ab.Write(attrs)
		ab.Write([]byte{0, 0})
	}
	writeAbbrev(1, tagCompileUnit, true, atName, formString, atStmtList, formSecOffset)
	writeAbbrev(2, tagNamespace, true, atName, formString)
	writeAbbrev(3, tagVariable, false,
		atName, formString, atDeclFile, formUdata, atDeclLine, formUdata, atLocation, formExprloc)
	ab.WriteByte(0)

	var dies bytes.Buffer
	dies.WriteByte(1)
	writeCString(&dies, "firmware")
	dies.Write([]byte{0, 0, 0, 0}) // stmt_list offset 0

	vars := append([]Variable(nil), d.Variables...)
	sort.SliceStable(vars, func(i, j int) bool { return vars[i].Addr < vars[j].Addr })
	for _, v := range vars {
		for _, ns := range v.Namespace {
			dies.WriteByte(2)
			writeCString(&dies, ns)
		}
		dies.WriteByte(3)
		writeCString(&dies, v.Name)
		writeULEB(&dies, uint64(v.File))
		writeULEB(&dies, uint64(v.Line))
		writeULEB(&dies, 5)
		dies.WriteByte(opAddr)
		var addr [4]byte
		le.PutUint32(addr[:], v.Addr)
		dies.Write(addr[:])
		for range v.Namespace {
			dies.WriteByte(0)
		}
	}
	dies.WriteByte(0) // end of compile unit children

	var in bytes.Buffer
	hdr := make([]byte, 11)
	le.PutUint32(hdr[0:], uint32(7+dies.Len()))
	le.PutUint16(hdr[4:], 4) // version
	le.PutUint32(hdr[6:], 0) // abbrev offset
	hdr[10] = 4              // address size
	in.Write(hdr)
	in.Write(dies.Bytes())

	// Line program header with the file table and a lone end_sequence.
	var tail bytes.Buffer
	tail.Write([]byte{1, 1, 1, 0xfb, 14, 13})
	tail.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})
	tail.WriteByte(0) // no include directories
	for _, f := range d.Files {
		writeCString(&tail, f)
		tail.Write([]byte{0, 0, 0})
	}
	tail.WriteByte(0)
	headerLen := tail.Len()
	tail.Write([]byte{0, 1, 1}) // DW_LNE_end_sequence

	var ln bytes.Buffer
	lhdr := make([]byte, 10)
	le.PutUint32(lhdr[0:], uint32(2+4+tail.Len()))
	le.PutUint16(lhdr[4:], 4)
	le.PutUint32(lhdr[6:], uint32(headerLen))
	ln.Write(lhdr)
	ln.Write(tail.Bytes())

	return ab.Bytes(), in.Bytes(), ln.Bytes()
}

func writeCString(b *bytes.Buffer, s string) {
	b.WriteString(s)
	b.WriteByte(0)
}

func writeULEB(b *bytes.Buffer, v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.WriteByte(c)
		if v == 0 {
			return
		}
	}
}
