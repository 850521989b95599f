package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	suffixGradCAM = "_gradcam"
	suffixELA     = "_ela"
)

// FrameName returns "{id}_{frame}.{ext}".
func FrameName(id string, frame int, ext string) string {
	return id + "_" + strconv.Itoa(frame) + "." + ext
}

// CropName returns "{id}_{frame}_{crop}.{ext}".
func CropName(id string, frame, crop int, ext string) string {
	return id + "_" + strconv.Itoa(frame) + "_" + strconv.Itoa(crop) + "." + ext
}

// DerivedName inserts suffix before the extension of name.
func DerivedName(name, suffix string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + suffix + ext
}

// isDerived reports whether name is an explainability artifact.
func isDerived(name string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.HasSuffix(stem, suffixGradCAM) || strings.HasSuffix(stem, suffixELA)
}

// artifactIndices parses the numeric parts that follow prefix in name,
// e.g. "1_2_3_4.jpg" with prefix "1_2_" gives [3, 4].
func artifactIndices(name, prefix string) ([]int, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return nil, false
	}
	rest = strings.TrimSuffix(rest, filepath.Ext(rest))
	parts := strings.Split(rest, "_")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// artifact is a listed file together with its parsed indices.
type artifact struct {
	name    string
	path    string
	indices []int
}

// listArtifacts returns the files in dir named "{prefix}{n}[_{m}...].ext"
// with exactly depth numeric parts, skipping explainability artifacts,
// sorted in natural numeric order.
func listArtifacts(dir, prefix string, depth int) ([]artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []artifact
	for _, e := range entries {
		if e.IsDir() || isDerived(e.Name()) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		idx, ok := artifactIndices(e.Name(), prefix)
		if !ok || len(idx) != depth {
			continue
		}
		out = append(out, artifact{name: e.Name(), path: filepath.Join(dir, e.Name()), indices: idx})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].indices, out[j].indices
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return out[i].name < out[j].name
	})
	return out, nil
}
