// heapdbctl is a small operator tool for inspecting a heapdb data directory:
// listing cataloged files, counting and dumping records, and reporting page
// allocation.
//
// Usage:
//
//	heapdbctl [-config heapdb.ini] [-data DIR] <command> [args]
//
// Commands:
//
//	list             list cataloged heap files with record counts
//	dump <file>      print every record of a heap file as hex
//	stats            print page allocation totals
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/heapdb/heapdb"
	"github.com/heapdb/heapdb/config"
)

func main() {
	configPath := flag.String("config", "", "path to an ini config file")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: heapdbctl [-config FILE] [-data DIR] list|dump|stats")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	engine, err := heapdb.Open(cfg)
	if err != nil {
		fatal(err)
	}
	defer engine.Close()

	switch cmd := flag.Arg(0); cmd {
	case "list":
		err = list(engine)
	case "dump":
		if flag.NArg() != 2 {
			fatal(fmt.Errorf("dump needs a file name"))
		}
		err = dump(engine, flag.Arg(1))
	case "stats":
		err = stats(engine)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "heapdbctl:", err)
	os.Exit(1)
}

func list(engine *heapdb.Engine) error {
	for _, name := range engine.Catalog.Names() {
		hf, err := engine.OpenHeapFile(name)
		if err != nil {
			return err
		}
		count, err := hf.RecordCount()
		if err != nil {
			hf.Release()
			return err
		}
		fmt.Printf("%-32s %8d records\n", name, count)
		if err := hf.Release(); err != nil {
			return err
		}
	}
	return nil
}

func dump(engine *heapdb.Engine, name string) error {
	if _, ok := engine.Catalog.Lookup(name); !ok {
		return fmt.Errorf("no heap file named %q", name)
	}
	hf, err := engine.OpenHeapFile(name)
	if err != nil {
		return err
	}
	defer hf.Release()

	scan := hf.OpenScan()
	defer scan.Close()
	for scan.Next() {
		fmt.Printf("%s  %s\n", scan.RID(), hex.EncodeToString(scan.Record()))
	}
	return scan.Err()
}

func stats(engine *heapdb.Engine) error {
	disk := engine.Pool.DiskManager()
	allocated, err := disk.AllocatedPages()
	if err != nil {
		return err
	}
	fmt.Printf("cataloged files:  %d\n", len(engine.Catalog.Names()))
	fmt.Printf("allocated pages:  %d\n", allocated)
	return nil
}
