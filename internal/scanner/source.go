package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Frame is one captured image, or a payload typed by hand when Text is set.
type Frame struct {
	Path string
	Data []byte
	Text bool
}

// FrameSource yields frames until it is exhausted (io.EOF) or ctx ends.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

func isImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// FileSource reads a fixed list of image files.
type FileSource struct {
	paths []string
}

func NewFileSource(paths ...string) *FileSource {
	return &FileSource{paths: paths}
}

func (s *FileSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if len(s.paths) == 0 {
		return Frame{}, io.EOF
	}

	path := s.paths[0]
	s.paths = s.paths[1:]

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame: %w", err)
	}
	return Frame{Path: path, Data: data}, nil
}

// TextSource reads one payload per line, for scanners that type what they read (or for manual entry).
type TextSource struct {
	lines *bufio.Scanner
}

func NewTextSource(r io.Reader) *TextSource {
	return &TextSource{lines: bufio.NewScanner(r)}
}

// Next blocks on the reader; ctx is only checked between lines.
func (s *TextSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if !s.lines.Scan() {
			if err := s.lines.Err(); err != nil {
				return Frame{}, err
			}
			return Frame{}, io.EOF
		}

		line := strings.TrimSpace(s.lines.Text())
		if line != "" {
			return Frame{Data: []byte(line), Text: true}, nil
		}
	}
}

// DirSource watches a directory and yields each image written into it, as a phone or webcam tool drops
// captures there.
type DirSource struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *log.Logger
}

// NewDirSource starts watching dir. Close releases the watcher.
func NewDirSource(dir string, logger *log.Logger) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to watch %s: not a directory", dir)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if logger == nil {
		logger = log.Default()
	}
	return &DirSource{dir: dir, watcher: w, logger: logger}, nil
}

func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return Frame{}, io.EOF
			}
			s.logger.Warn("watch error", "dir", s.dir, "error", err)

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return Frame{}, io.EOF
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") || !isImage(ev.Name) {
				continue
			}

			info, err := os.Stat(ev.Name)
			if err != nil || info.IsDir() || info.Size() == 0 {
				continue
			}

			data, err := os.ReadFile(ev.Name)
			if err != nil {
				s.logger.Debug("frame not readable yet", "path", ev.Name, "error", err)
				continue
			}
			return Frame{Path: ev.Name, Data: data}, nil
		}
	}
}

func (s *DirSource) Close() error {
	return s.watcher.Close()
}
