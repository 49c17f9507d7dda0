package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/source"
)

// captureFile is the session's temporary pcap file. The worker appends raw frames; Save
// copies a consistent snapshot under the same lock.
type captureFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
	buf  *bufio.Writer
	w    *pcapgo.Writer
}

func newCaptureFile(dir string, snapLen int, linkType layers.LinkType) (*captureFile, error) {
	f, err := os.CreateTemp(dir, "sniff-*.pcap")
	if err != nil {
		return nil, fmt.Errorf("creating capture file: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(uint32(snapLen), linkType); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing capture file header: %w", err)
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing capture file header: %w", err)
	}
	return &captureFile{path: f.Name(), f: f, buf: buf, w: w}, nil
}

func (c *captureFile) append(frame core.RawFrame) error {
	ci := source.CaptureInfo(frame)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return os.ErrClosed
	}
	return c.w.WritePacket(ci, frame.Data[:ci.CaptureLength])
}

// copyTo writes everything appended so far to dst, replacing dst.
func (c *captureFile) copyTo(dst string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return ErrNoCaptureFile
	}
	if err := c.buf.Flush(); err != nil {
		return fmt.Errorf("flushing capture file: %w", err)
	}

	src, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoCaptureFile, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("saving capture to %s: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("saving capture to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("saving capture to %s: %w", dst, err)
	}
	return nil
}

// remove closes and deletes the file. It is safe to call more than once.
func (c *captureFile) remove() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	c.buf.Flush()
	err := c.f.Close()
	c.f = nil
	if rmErr := os.Remove(c.path); rmErr != nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}

func (c *captureFile) Path() string {
	return c.path
}
