package build

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"
	"time"
)

// FileState is the input metadata used for change detection.
type FileState struct {
	Path    string
	Size    int64
	ModTime time.Time
	SHA256  string
}

// Snapshot records the state of a set of input files by path.
type Snapshot map[string]FileState

// HashFile computes SHA-256 for a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TakeSnapshot records every path. A missing file is recorded with an empty
// hash so that its reappearance counts as a change.
func TakeSnapshot(paths []string) (Snapshot, error) {
	out := make(Snapshot, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			out[p] = FileState{Path: p}
			continue
		}
		if err != nil {
			return nil, err
		}
		sum, err := HashFile(p)
		if err != nil {
			return nil, err
		}
		out[p] = FileState{Path: p, Size: info.Size(), ModTime: info.ModTime().UTC(), SHA256: sum}
	}
	return out, nil
}

// Changed returns the sorted paths whose content differs between prev and
// curr. A touch that leaves the content unchanged is not a change.
func Changed(prev, curr Snapshot) []string {
	var dirty []string
	for p, c := range curr {
		if o, ok := prev[p]; !ok || o.SHA256 != c.SHA256 || o.Size != c.Size {
			dirty = append(dirty, p)
		}
	}
	for p := range prev {
		if _, ok := curr[p]; !ok {
			dirty = append(dirty, p)
		}
	}
	sort.Strings(dirty)
	return dirty
}
