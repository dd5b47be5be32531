// Package catalog maps durable heap-file names to the page id of their first
// directory page. The catalog is serialized as a single JSON blob through a
// PersistenceProvider; a production system would instead store it in tables
// that enjoy the same guarantees as user data, bootstrapped from hard-coded
// page locations.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/btree"

	"github.com/heapdb/heapdb/common"
)

// fileEntry is one catalog record: a file name bound to the head of its
// directory chain.
type fileEntry struct {
	Name   string        `json:"name"`
	HeadID common.PageID `json:"head_id"`
}

// PersistenceProvider abstracts how the catalog state is saved and loaded.
type PersistenceProvider interface {
	LoadCatalogState() (string, error)
	SaveCatalogState(data string) error
}

// FileCatalog holds the name → head-page bindings of every named heap file.
// Entries are kept in an ordered tree so listings come out sorted. Not safe
// for concurrent use; callers serialize access the same way they serialize
// heap-file operations.
type FileCatalog struct {
	provider PersistenceProvider
	entries  *btree.BTreeG[fileEntry]
}

func entryLess(a, b fileEntry) bool {
	return a.Name < b.Name
}

// NewFileCatalog loads the catalog from the provider, starting empty if no
// saved state exists.
func NewFileCatalog(provider PersistenceProvider) (*FileCatalog, error) {
	fc := &FileCatalog{
		provider: provider,
		entries:  btree.NewBTreeG(entryLess),
	}

	data, err := provider.LoadCatalogState()
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return nil, err
	}

	var state []fileEntry
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		// Parse failures indicate corruption and are fatal.
		return nil, fmt.Errorf("failed to parse catalog state: %v", err)
	}
	for _, e := range state {
		fc.entries.Set(e)
	}
	return fc, nil
}

func (fc *FileCatalog) save() error {
	state := make([]fileEntry, 0, fc.entries.Len())
	fc.entries.Scan(func(e fileEntry) bool {
		state = append(state, e)
		return true
	})
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return fc.provider.SaveCatalogState(string(data))
}

// Lookup returns the head page bound to name, if any.
func (fc *FileCatalog) Lookup(name string) (common.PageID, bool) {
	e, ok := fc.entries.Get(fileEntry{Name: name})
	if !ok {
		return common.InvalidPageID, false
	}
	return e.HeadID, true
}

// Register binds name to headID and persists the catalog. Fails with
// DuplicateObject if the name is already registered.
func (fc *FileCatalog) Register(name string, headID common.PageID) error {
	if _, ok := fc.entries.Get(fileEntry{Name: name}); ok {
		return common.NewError(common.DuplicateObject, "file '%s' already exists", name)
	}
	fc.entries.Set(fileEntry{Name: name, HeadID: headID})
	return fc.save()
}

// Rebind points an existing name at a new head page. Used when an emptied
// head directory page is removed from the chain. Fails with NoSuchObject if
// the name is not registered.
func (fc *FileCatalog) Rebind(name string, headID common.PageID) error {
	if _, ok := fc.entries.Get(fileEntry{Name: name}); !ok {
		return common.NewError(common.NoSuchObject, "file '%s' does not exist", name)
	}
	fc.entries.Set(fileEntry{Name: name, HeadID: headID})
	return fc.save()
}

// Unregister removes the binding for name and persists the catalog. Fails
// with NoSuchObject if the name is not registered.
func (fc *FileCatalog) Unregister(name string) error {
	if _, ok := fc.entries.Delete(fileEntry{Name: name}); !ok {
		return common.NewError(common.NoSuchObject, "file '%s' does not exist", name)
	}
	return fc.save()
}

// Names returns every registered file name in sorted order.
func (fc *FileCatalog) Names() []string {
	names := make([]string, 0, fc.entries.Len())
	fc.entries.Scan(func(e fileEntry) bool {
		names = append(names, e.Name)
		return true
	})
	return names
}

// CatalogFileName is the on-disk name of the serialized catalog.
const CatalogFileName = "heapdb_catalog.json"

// DiskCatalogManager persists the catalog as a JSON file under rootPath.
type DiskCatalogManager struct {
	rootPath string
}

func NewDiskCatalogManager(rootPath string) *DiskCatalogManager {
	return &DiskCatalogManager{rootPath: rootPath}
}

// LoadCatalogState implements PersistenceProvider.
func (dcm *DiskCatalogManager) LoadCatalogState() (string, error) {
	content, err := os.ReadFile(filepath.Join(dcm.rootPath, CatalogFileName))
	if err != nil {
		return "", err // callers handle os.ErrNotExist
	}
	return string(content), nil
}

// SaveCatalogState implements PersistenceProvider with an atomic
// write-then-rename.
func (dcm *DiskCatalogManager) SaveCatalogState(data string) error {
	tmpPath := filepath.Join(dcm.rootPath, CatalogFileName+".tmp")
	finalPath := filepath.Join(dcm.rootPath, CatalogFileName)

	if err := os.WriteFile(tmpPath, []byte(data), 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, finalPath)
}
