package simhost

// pipeBufferCap bounds an anonymous pipe's internal buffer, mirroring the
// default Linux pipe capacity used for readiness modeling.
const pipeBufferCap = 65536

// Pipe is one end of an anonymous pipe(2). A pipe pair shares a single
// ring buffer; ReadEnd and WriteEnd are thin views over it so that
// closing one end alone can flip HUP on the other.
type Pipe struct {
	*Base
	buf      *pipeBuffer
	isWriter bool
}

type pipeBuffer struct {
	data        []byte
	readerAlive bool
	writerAlive bool
	reader      *Pipe
	writer      *Pipe
}

// NewPipe returns the (read-end, write-end) pair for a fresh pipe(2).
func NewPipe() (*Pipe, *Pipe) {
	buf := &pipeBuffer{readerAlive: true, writerAlive: true}
	r := &Pipe{Base: NewBase(ACTIVE), buf: buf}
	w := &Pipe{Base: NewBase(ACTIVE | WRITABLE), buf: buf, isWriter: true}
	buf.reader, buf.writer = r, w
	return r, w
}

// Read consumes up to len(p) bytes. Returns (0, false) if empty and the
// write end is still open (EAGAIN); returns (0, true) at EOF (write end
// closed, buffer empty).
func (p *Pipe) Read(out []byte) (int, bool) {
	if len(p.buf.data) == 0 {
		if !p.buf.writerAlive {
			return 0, true
		}
		return 0, false
	}
	n := copy(out, p.buf.data)
	p.buf.data = p.buf.data[n:]
	if len(p.buf.data) == 0 {
		p.ClearBits(READABLE)
	}
	p.syncWriterWritable()
	return n, true
}

// Write appends p to the pipe buffer, truncating to available capacity.
// Returns the number of bytes written and whether the read end is still
// open (false means the write would raise EPIPE).
func (p *Pipe) Write(data []byte) (int, bool) {
	if !p.buf.readerAlive {
		return 0, false
	}
	avail := pipeBufferCap - len(p.buf.data)
	if avail <= 0 {
		return 0, true
	}
	n := len(data)
	if n > avail {
		n = avail
	}
	p.buf.data = append(p.buf.data, data[:n]...)
	p.syncReaderReadable()
	p.syncWriterWritable()
	return n, true
}

func (p *Pipe) syncReaderReadable() {
	if len(p.buf.data) > 0 {
		p.buf.reader.SetBits(READABLE)
	}
}

func (p *Pipe) syncWriterWritable() {
	if len(p.buf.data) < pipeBufferCap {
		p.buf.writer.SetBits(WRITABLE)
	} else {
		p.buf.writer.ClearBits(WRITABLE)
	}
}

func (p *Pipe) Close() error {
	if p.isWriter {
		p.buf.writerAlive = false
		// Closing the write end is the EOF signal: the reader becomes
		// READABLE (a zero-length read) and HUP.
		if p.buf.reader != nil {
			p.buf.reader.SetStatus(p.buf.reader.Status() | READABLE | HUP)
		}
	} else {
		p.buf.readerAlive = false
		// Closing the read end means further writes raise EPIPE.
		if p.buf.writer != nil {
			p.buf.writer.SetStatus(p.buf.writer.Status() | ERR | HUP)
		}
	}
	p.SetStatus(p.Status() | CLOSED | HUP)
	return nil
}
