package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/anndata/internal/hash"
)

const (
	binaryMagic   = 0x414E444D // "ANDM"
	binaryVersion = 1

	maxDims = 8
)

// WriteBinary writes the manifest in binary format.
func (m *Manifest) WriteBinary(w io.Writer) error {
	pb := newPayloadBuffer(make([]byte, 0, 64+len(m.Nodes)*160))

	pb.writeUint64(m.ID)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeString(m.Codec)
	pb.writeUint32(uint32(len(m.Nodes)))

	for _, n := range m.Nodes {
		if len(n.Shape) > maxDims {
			return fmt.Errorf("manifest: node %s has %d dimensions", n.Path, len(n.Shape))
		}
		if len(n.Components) > 0xffff {
			return fmt.Errorf("manifest: node %s has too many components", n.Path)
		}
		pb.writeString(n.Path)
		pb.writeUint8(n.Kind)
		pb.writeUint8(n.DType)
		pb.writeUint8(n.Encoding)
		pb.writeUint8(uint8(len(n.Shape)))
		for _, d := range n.Shape {
			pb.writeUint64(uint64(d))
		}
		pb.writeBytes(n.Attrs)
		pb.writeUint16(uint16(len(n.Components)))
		for _, c := range n.Components {
			pb.writeString(c.Role)
			pb.writeString(c.Blob)
			pb.writeUint64(uint64(c.Size))
			pb.writeUint64(uint64(c.Length))
		}
	}

	if pb.err != nil {
		return pb.err
	}

	payload := pb.buf
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadBinary reads the manifest from binary format.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("invalid magic: %x", magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != binaryVersion {
		return nil, fmt.Errorf("unsupported version: %d", version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if hash.CRC32C(payload) != checksum {
		return nil, fmt.Errorf("checksum mismatch")
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{Version: int(version)}

	m.ID = pb.readUint64()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.Codec = pb.readString()

	numNodes := pb.readUint32()
	if pb.err == nil && int(numNodes) > len(payload) {
		return nil, fmt.Errorf("node count %d exceeds payload", numNodes)
	}
	m.Nodes = make([]Node, 0, numNodes)
	for i := 0; i < int(numNodes) && pb.err == nil; i++ {
		var n Node
		n.Path = pb.readString()
		n.Kind = pb.readUint8()
		n.DType = pb.readUint8()
		n.Encoding = pb.readUint8()
		ndim := int(pb.readUint8())
		if ndim > maxDims {
			return nil, fmt.Errorf("node %s has %d dimensions", n.Path, ndim)
		}
		if ndim > 0 {
			n.Shape = make([]int64, ndim)
			for d := range n.Shape {
				n.Shape[d] = int64(pb.readUint64())
			}
		}
		n.Attrs = pb.readBytes()
		nc := int(pb.readUint16())
		for j := 0; j < nc && pb.err == nil; j++ {
			n.Components = append(n.Components, Component{
				Role:   pb.readString(),
				Blob:   pb.readString(),
				Size:   int64(pb.readUint64()),
				Length: int64(pb.readUint64()),
			})
		}
		m.Nodes = append(m.Nodes, n)
	}

	if pb.err != nil {
		return nil, pb.err
	}
	if pb.pos != len(payload) {
		return nil, fmt.Errorf("%d trailing bytes", len(payload)-pb.pos)
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint8(v uint8) {
	if p.err == nil {
		p.buf = append(p.buf, v)
	}
}

func (p *payloadBuffer) writeUint16(v uint16) {
	if p.err == nil {
		p.buf = binary.LittleEndian.AppendUint16(p.buf, v)
	}
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err == nil {
		p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
	}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err == nil {
		p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
	}
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 0xffff {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) writeBytes(b []byte) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(len(b)))
	p.buf = append(p.buf, b...)
}

func (p *payloadBuffer) need(n int) bool {
	if p.err != nil {
		return false
	}
	if p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (p *payloadBuffer) readUint8() uint8 {
	if !p.need(1) {
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
	return v
}

func (p *payloadBuffer) readUint16() uint16 {
	if !p.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(p.buf[p.pos:])
	p.pos += 2
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if !p.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readUint64() uint64 {
	if !p.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readString() string {
	l := int(p.readUint16())
	if !p.need(l) {
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}

func (p *payloadBuffer) readBytes() []byte {
	l := int(p.readUint32())
	if !p.need(l) {
		return nil
	}
	b := append([]byte(nil), p.buf[p.pos:p.pos+l]...)
	p.pos += l
	return b
}
