package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Errors reported while building a catalog. Both abort the run before
// any training starts.
var (
	ErrNoClasses  = errors.New("dataset: no class directories found")
	ErrEmptyClass = errors.New("dataset: class directory contains no images")
)

// imageExtensions is the allow-list of image file extensions, matched
// case-insensitively.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
}

// Entry is a single catalog record: an image file path and the dense
// index of its class.
type Entry struct {
	Path  string
	Class int
}

// Catalog is an ordered list of (path, class) entries discovered from a
// directory tree where each immediate subdirectory is one class.
//
// Class indices are assigned by lexicographic sort of the directory
// names, and entries within a class are collected by a sorted recursive
// walk, so the catalog is deterministic for a given directory layout
// regardless of filesystem traversal order.
type Catalog struct {
	entries    []Entry
	classNames []string
	classToIdx map[string]int
}

// NewCatalog scans root and builds a catalog.
//
// It fails with ErrNoClasses if root has no subdirectories, and with
// ErrEmptyClass if any class subdirectory yields no qualifying image
// files. An empty class is fatal rather than skipped: the balanced
// sampler cannot draw a per-class quota from zero samples.
func NewCatalog(root string) (*Catalog, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to read root %s: %w", root, err)
	}

	var classNames []string
	for _, de := range dirEntries {
		if de.IsDir() {
			classNames = append(classNames, de.Name())
		}
	}
	if len(classNames) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoClasses, root)
	}
	sort.Strings(classNames)

	c := &Catalog{
		classNames: classNames,
		classToIdx: make(map[string]int, len(classNames)),
	}
	for i, name := range classNames {
		c.classToIdx[name] = i
	}

	for idx, name := range classNames {
		classDir := filepath.Join(root, name)
		before := len(c.entries)
		err := filepath.WalkDir(classDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if isImageFile(path) {
				abs, err := filepath.Abs(path)
				if err != nil {
					return err
				}
				c.entries = append(c.entries, Entry{Path: abs, Class: idx})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("dataset: failed to walk class %s: %w", name, err)
		}
		if len(c.entries) == before {
			return nil, fmt.Errorf("%w: %s", ErrEmptyClass, name)
		}
	}

	return c, nil
}

func isImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// Len returns the number of entries in the catalog.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// GetItem returns the image path and class index at the given catalog index.
func (c *Catalog) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(c.entries) {
		return "", 0, fmt.Errorf("dataset: index %d out of range [0, %d)", index, len(c.entries))
	}
	e := c.entries[index]
	return e.Path, e.Class, nil
}

// NumClasses returns the number of classes.
func (c *Catalog) NumClasses() int {
	return len(c.classNames)
}

// ClassNames returns the class names in index order (sorted).
func (c *Catalog) ClassNames() []string {
	return c.classNames
}

// ClassIndex returns the dense index for a class name.
func (c *Catalog) ClassIndex(name string) (int, bool) {
	idx, ok := c.classToIdx[name]
	return idx, ok
}

// ClassCounts returns the raw number of catalog entries per class,
// indexed by class index.
func (c *Catalog) ClassCounts() []int {
	counts := make([]int, len(c.classNames))
	for _, e := range c.entries {
		counts[e.Class]++
	}
	return counts
}

// String returns a human-readable summary of the catalog.
func (c *Catalog) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Catalog: %d samples, %d classes\n", len(c.entries), len(c.classNames)))
	counts := c.ClassCounts()
	for i, name := range c.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", name, counts[i]))
	}
	return sb.String()
}
