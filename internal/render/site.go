package render

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/rssi.map/internal/fsutil"
)

// Layout of the web root.
const (
	MapFile   = "map.html"
	StaticDir = "static"
	APsFile   = "aps.json"
)

// Site is a web root that map artefacts are written into.
type Site struct {
	FS   fsutil.FileSystem
	Root string
}

// NewSite returns a Site on the local disk.
func NewSite(root string) *Site {
	return &Site{FS: fsutil.OSFileSystem{}, Root: root}
}

// MapPath is where map.html is written.
func (s *Site) MapPath() string { return filepath.Join(s.Root, MapFile) }

// APsPath is where static/aps.json is written.
func (s *Site) APsPath() string { return filepath.Join(s.Root, StaticDir, APsFile) }

// Write replaces static/aps.json and map.html. Each file is swapped in
// whole, so a concurrent reader sees either the old or the new version.
func (s *Site) Write(aps []AP, me *Position) error {
	if err := s.FS.MkdirAll(filepath.Join(s.Root, StaticDir), 0755); err != nil {
		return fmt.Errorf("failed to create static dir: %w", err)
	}

	data, err := encodeAPs(aps)
	if err != nil {
		return fmt.Errorf("failed to encode aps: %w", err)
	}
	if err := s.FS.WriteFile(s.APsPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.APsPath(), err)
	}

	var page bytes.Buffer
	if err := RenderMapHTML(&page, aps, me); err != nil {
		return fmt.Errorf("failed to render map: %w", err)
	}
	if err := s.FS.WriteFile(s.MapPath(), page.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.MapPath(), err)
	}
	return nil
}
