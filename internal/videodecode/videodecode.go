// Package videodecode wraps an FFmpeg H.264 software decoder (via
// go-astiav) behind a narrow interface so the VideoPlayout component (spec
// §4.8) never depends on libav types directly.
package videodecode

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// PixelFormat identifies the layout of a decoded frame's pixel data.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatI420
	PixelFormatNV12
)

// Frame is a decoded video frame: raw plane data, dimensions and format.
// Each successful Decode builds a new Data slice; a failed Decode returns
// the previous frame's Data slice again.
type Frame struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// Decoder decodes an H.264 Annex-B byte stream, one assembled frame at a
// time. Not safe for concurrent use; callers serialise per-stream the same
// way they serialise MetaQueue access.
type Decoder struct {
	codecCtx *astiav.CodecContext
	frame    *astiav.Frame
	pkt      *astiav.Packet

	lastWidth  int
	lastHeight int
	lastFormat PixelFormat
	lastData   []byte
}

// New allocates an H.264 software decoder.
func New() (*Decoder, error) {
	codec := astiav.FindDecoder(astiav.CodecIDH264)
	if codec == nil {
		return nil, fmt.Errorf("videodecode: h264 decoder not available")
	}
	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return nil, fmt.Errorf("videodecode: alloc codec context failed")
	}
	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("videodecode: open codec: %w", err)
	}

	frame := astiav.AllocFrame()
	pkt := astiav.AllocPacket()

	return &Decoder{codecCtx: ctx, frame: frame, pkt: pkt}, nil
}

// Close releases the underlying libav resources.
func (d *Decoder) Close() {
	if d.pkt != nil {
		d.pkt.Free()
	}
	if d.frame != nil {
		d.frame.Free()
	}
	if d.codecCtx != nil {
		d.codecCtx.Free()
	}
}

func toPixelFormat(f astiav.PixelFormat) PixelFormat {
	switch f {
	case astiav.PixelFormatYuv420P:
		return PixelFormatI420
	case astiav.PixelFormatNv12:
		return PixelFormatNV12
	default:
		return PixelFormatUnknown
	}
}

// Decode feeds one assembled H.264 access unit and returns the next decoded
// frame, if libav produced one. On decode failure it retains the previous
// width/height/format and last decoded buffer (spec §4.8: "loss is
// tolerable because the next IDR restarts") and returns that stale Frame
// along with the error so callers can still emit something.
func (d *Decoder) Decode(data []byte) (Frame, error) {
	if err := d.pkt.FromData(data); err != nil {
		return d.lastFrame(), fmt.Errorf("videodecode: wrap packet: %w", err)
	}
	defer d.pkt.Unref()

	if err := d.codecCtx.SendPacket(d.pkt); err != nil {
		return d.lastFrame(), fmt.Errorf("videodecode: send packet: %w", err)
	}

	if err := d.codecCtx.ReceiveFrame(d.frame); err != nil {
		return d.lastFrame(), fmt.Errorf("videodecode: receive frame: %w", err)
	}
	defer d.frame.Unref()

	planes := planeBytes(d.frame)

	d.lastWidth = d.frame.Width()
	d.lastHeight = d.frame.Height()
	d.lastFormat = toPixelFormat(d.frame.PixelFormat())
	d.lastData = planes

	return d.lastFrame(), nil
}

func (d *Decoder) lastFrame() Frame {
	return Frame{
		Width:  d.lastWidth,
		Height: d.lastHeight,
		Format: d.lastFormat,
		Data:   d.lastData,
	}
}

// planeBytes concatenates a decoded frame's planes into one contiguous
// buffer, trimming each row to its logical width (ignoring stride padding).
func planeBytes(f *astiav.Frame) []byte {
	var out []byte
	data := f.Data()
	linesize := f.Linesize()
	width := f.Width()
	height := f.Height()
	nv12 := f.PixelFormat() == astiav.PixelFormatNv12
	for plane := 0; plane < len(data); plane++ {
		buf := data[plane]
		stride := linesize[plane]
		if stride <= 0 || len(buf) == 0 {
			continue
		}
		planeHeight := height
		rowWidth := width
		if plane > 0 {
			planeHeight = (height + 1) / 2
			rowWidth = (width + 1) / 2
			if nv12 {
				rowWidth *= 2 // interleaved U/V samples
			}
		}
		if rowWidth > stride {
			rowWidth = stride
		}
		for row := 0; row < planeHeight && row*stride < len(buf); row++ {
			rowEnd := row*stride + rowWidth
			if rowEnd > len(buf) {
				rowEnd = len(buf)
			}
			out = append(out, buf[row*stride:rowEnd]...)
		}
	}
	return out
}
