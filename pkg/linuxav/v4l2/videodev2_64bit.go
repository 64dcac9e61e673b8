//go:build linux && (amd64 || arm64)

package v4l2

import "unsafe"

// Struct sizes checked at compile time against the kernel ABI.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [80]byte  = [unsafe.Sizeof(v4l2Input{})]byte{}
)

const (
	vidiocQuerycap  = 0x80685600 // _IOR('V', 0, struct v4l2_capability)
	vidiocEnumFmt   = 0xc0405602 // _IOWR('V', 2, struct v4l2_fmtdesc)
	vidiocGFmt      = 0xc0d05604 // _IOWR('V', 4, struct v4l2_format)
	vidiocEnumInput = 0xc050561a // _IOWR('V', 26, struct v4l2_input)
)

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format holds the 200-byte format union. The union contains pointers,
// so it starts on an 8-byte boundary.
type v4l2Format struct {
	typ uint32
	_   uint32
	fmt [200]byte
}

func (f *v4l2Format) pix() *v4l2PixFormat {
	return (*v4l2PixFormat)(unsafe.Pointer(&f.fmt[0]))
}

type v4l2Input struct {
	index        uint32
	name         [32]byte
	typ          uint32
	audioset     uint32
	tuner        uint32
	std          uint64
	status       uint32
	capabilities uint32
	reserved     [3]uint32
	_            uint32
}
