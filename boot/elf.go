package boot

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
	"unsafe"
)

// mapFn is used by tests to override calls to vmm.Map.
var mapFn = vmm.Map

var (
	errNotELF          = &kernel.Error{Module: "boot", Message: "image does not start with the ELF magic"}
	errNot64BitLE      = &kernel.Error{Module: "boot", Message: "image is not a 64-bit little-endian ELF"}
	errNotExecutable   = &kernel.Error{Module: "boot", Message: "image is not an executable ELF"}
	errWrongMachine    = &kernel.Error{Module: "boot", Message: "image is not built for the x86-64 architecture"}
	errSegmentCopyFrame = &kernel.Error{Module: "boot", Message: "failed to allocate frame for PT_LOAD segment"}
)

const (
	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7f, 'E', 'L', 'F'

	elfClass64   = 2
	elfDataLE    = 1
	elfTypeExec  = 2
	elfMachineX8664 = 0x3e

	ptLoad = 1
)

// elf64Header mirrors the fixed-size ELF64 file header.
type elf64Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// elf64ProgramHeader mirrors a single ELF64 program header table entry.
type elf64ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

const (
	pfExecute = 1 << 0
	pfWrite   = 1 << 1
)

// LoadELF validates the ELF64 image img and copies every PT_LOAD segment to
// freshly allocated physical frames, zero-filling the tail between Filesz
// and Memsz. It returns the image's entrypoint virtual address.
func LoadELF(img []byte) (entry uintptr, err *kernel.Error) {
	if len(img) < int(unsafe.Sizeof(elf64Header{})) {
		return 0, errNotELF
	}

	hdr := (*elf64Header)(unsafe.Pointer(&img[0]))
	if hdr.Ident[0] != elfMagic0 || hdr.Ident[1] != elfMagic1 || hdr.Ident[2] != elfMagic2 || hdr.Ident[3] != elfMagic3 {
		return 0, errNotELF
	}
	if hdr.Ident[4] != elfClass64 || hdr.Ident[5] != elfDataLE {
		return 0, errNot64BitLE
	}
	if hdr.Type != elfTypeExec {
		return 0, errNotExecutable
	}
	if hdr.Machine != elfMachineX8664 {
		return 0, errWrongMachine
	}

	for i := uint16(0); i < hdr.Phnum; i++ {
		phOff := uintptr(hdr.Phoff) + uintptr(i)*uintptr(hdr.Phentsize)
		ph := (*elf64ProgramHeader)(unsafe.Pointer(&img[phOff]))
		if ph.Type != ptLoad {
			continue
		}

		if err = loadSegment(img, ph); err != nil {
			return 0, err
		}
	}

	return uintptr(hdr.Entry), nil
}

func loadSegment(img []byte, ph *elf64ProgramHeader) *kernel.Error {
	pageCount := (ph.Memsz + uint64(mm.PageSize) - 1) >> mm.PageShift

	for page := uint64(0); page < pageCount; page++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			return errSegmentCopyFrame
		}

		dst := frame.DirectAddress()
		pageStart := page << mm.PageShift
		pageEnd := pageStart + uint64(mm.PageSize)

		for off := uint64(0); off < uint64(mm.PageSize); off++ {
			srcOff := pageStart + off
			if srcOff >= ph.Filesz || pageStart+off >= pageEnd {
				break
			}
			*(*byte)(unsafe.Pointer(dst + uintptr(off))) = img[ph.Offset+srcOff]
		}
		if pageStart < ph.Filesz && pageEnd > ph.Filesz {
			zeroFrom := ph.Filesz - pageStart
			kernel.Memset(dst+uintptr(zeroFrom), 0, mm.PageSize-uintptr(zeroFrom))
		} else if pageStart >= ph.Filesz {
			kernel.Memset(dst, 0, mm.PageSize)
		}

		virtAddr := uintptr(ph.Vaddr) + uintptr(pageStart)
		flags := mappingFlagsFor(ph.Flags)
		if err := mapFn(mm.PageFromAddress(virtAddr), frame, flags); err != nil {
			return err
		}
	}

	return nil
}

// mappingFlagsFor translates an ELF program header's RWX flags into the
// vmm's page table entry flags. Segments are always present and kernel-only
// at this stage; user-mode executables get FlagUserAccessible applied by the
// loader that maps them into a task's address space.
func mappingFlagsFor(phFlags uint32) vmm.PageTableEntryFlag {
	flags := vmm.FlagPresent
	if phFlags&pfWrite != 0 {
		flags |= vmm.FlagRW
	}
	if phFlags&pfExecute == 0 {
		flags |= vmm.FlagNoExecute
	}
	return flags
}
