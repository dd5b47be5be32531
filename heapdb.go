// Package heapdb wires the storage stack into a usable engine: a disk
// manager with a page allocation map, a buffer pool on top of it, and a file
// catalog mapping names to heap files.
package heapdb

import (
	"os"
	"path/filepath"

	"github.com/heapdb/heapdb/catalog"
	"github.com/heapdb/heapdb/config"
	"github.com/heapdb/heapdb/heap"
	"github.com/heapdb/heapdb/logger"
	"github.com/heapdb/heapdb/storage"
)

// DataFileName is the on-disk name of the page file under the data
// directory.
const DataFileName = "heapdb.dat"

// Engine is the top-level container for the storage system.
type Engine struct {
	Catalog *catalog.FileCatalog
	Pool    *storage.BufferPool

	cfg  *config.Config
	file *storage.DiskFile
}

// Open starts the engine from the given configuration, creating the data
// directory and page file on first use.
func Open(cfg *config.Config) (*Engine, error) {
	logger.SetLevel(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}
	file, err := storage.OpenDiskFile(filepath.Join(cfg.DataDir, DataFileName))
	if err != nil {
		return nil, err
	}
	disk, err := storage.NewDiskManager(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	cat, err := catalog.NewFileCatalog(catalog.NewDiskCatalogManager(cfg.DataDir))
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Engine{
		Catalog: cat,
		Pool:    storage.NewBufferPool(cfg.BufferPoolPages, disk),
		cfg:     cfg,
		file:    file,
	}, nil
}

// OpenHeapFile opens the named heap file, creating it on first open.
func (e *Engine) OpenHeapFile(name string) (*heap.HeapFile, error) {
	return heap.OpenHeapFile(e.Pool, e.Catalog, name)
}

// CreateTempFile creates an unnamed scratch heap file that is destroyed when
// released.
func (e *Engine) CreateTempFile() *heap.HeapFile {
	return heap.NewTempHeapFile(e.Pool)
}

// Close flushes all dirty pages and closes the page file. The engine is
// unusable afterwards.
func (e *Engine) Close() error {
	if err := e.Pool.FlushAll(); err != nil {
		return err
	}
	if err := e.file.Sync(); err != nil {
		return err
	}
	return e.file.Close()
}
