package net

import (
	"io"
	"os"
	"sync"
)

// fileReader replays a file. Reads hit io.EOF at the end of the file.
type fileReader struct {
	f    *os.File
	info ChannelInfo
}

// OpenFileReader ...
func OpenFileReader(path string) (ByteChannel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileReader{
		f:    f,
		info: ChannelInfo{Kind: KindFileReader, Local: path},
	}, nil
}

func (r *fileReader) Read(p []byte) (int, error) { return r.f.Read(p) }

func (r *fileReader) Write(p []byte) (int, error) { return 0, ErrReadOnly }

func (r *fileReader) Close() error { return r.f.Close() }

func (r *fileReader) Info() ChannelInfo { return r.info }

// fileWriter records to a file. It has nothing to read, so Read blocks
// until the channel is closed.
type fileWriter struct {
	mu     sync.Mutex
	f      *os.File
	info   ChannelInfo
	closed chan struct{}
	once   sync.Once
}

// OpenFileWriter creates or truncates path.
func OpenFileWriter(path string) (ByteChannel, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &fileWriter{
		f:      f,
		info:   ChannelInfo{Kind: KindFileWriter, Local: path},
		closed: make(chan struct{}),
	}, nil
}

func (w *fileWriter) Read(p []byte) (int, error) {
	<-w.closed
	return 0, io.EOF
}

func (w *fileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Write(p)
}

func (w *fileWriter) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)
		w.mu.Lock()
		defer w.mu.Unlock()
		err = w.f.Close()
	})
	return err
}

func (w *fileWriter) Info() ChannelInfo { return w.info }
