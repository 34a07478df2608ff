package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	humanize "github.com/dustin/go-humanize"

	"github.com/tangyewlabs/civd-go/civd"
)

const (
	exitOK        = 0
	exitValidate  = 1
	exitIOFailure = 2
)

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitValidate)
	}

	var err error
	switch os.Args[1] {
	case "schema-verify":
		err = runSchemaVerify(logger, os.Args[2:])
	case "submap-verify":
		err = runSubmapVerify(logger, os.Args[2:])
	case "upgrade-index":
		err = runUpgradeIndex(logger, os.Args[2:])
	default:
		printUsage()
		os.Exit(exitValidate)
	}

	if err == nil {
		os.Exit(exitOK)
	}

	if civdErr, ok := err.(*civd.Error); ok && civdErr.Kind == civd.KindIO {
		logger.Printf("I/O error: %v", err)
		os.Exit(exitIOFailure)
	}
	logger.Printf("validation failed: %v", err)
	os.Exit(exitValidate)
}

func printUsage() {
	fmt.Println(`Usage: civd [COMMAND] [ARGS]

schema-verify --time NAME [--root DIR]
submap-verify --manifest PATH
upgrade-index --time NAME [--root DIR] [--default-tile-size N]`)
}

func runSchemaVerify(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("schema-verify", flag.ExitOnError)
	timeName := fs.String("time", "", "snapshot name, e.g. t000")
	root := fs.String("root", ".", "storage root")
	fs.Parse(args)

	if *timeName == "" {
		return fmt.Errorf("--time is required")
	}

	indexPath := filepath.Join(*root, "data", "civd_time", *timeName, "index.json")
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return &civd.Error{Kind: civd.KindIO, Err: err, Pack: indexPath}
	}

	idx, err := civd.ParseIndex(data)
	if err != nil {
		return err
	}
	if err := civd.VerifyIndexV1(idx); err != nil {
		return err
	}

	logger.Printf("%s: schema_version=%s tiles=%d shape=%v (%s)",
		*timeName, idx.SchemaVersion, len(idx.Tiles), idx.ShapeZYXC, humanize.Bytes(uint64(len(data))))
	return nil
}

func runSubmapVerify(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("submap-verify", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "path to a civd.submap.v1 manifest")
	fs.Parse(args)

	if *manifestPath == "" {
		return fmt.Errorf("--manifest is required")
	}

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		return &civd.Error{Kind: civd.KindIO, Err: err, Pack: *manifestPath}
	}

	var manifest civd.SubmapManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return &civd.Error{Kind: civd.KindSchema, Err: err}
	}
	if err := civd.VerifySubmapV1(&manifest); err != nil {
		return err
	}

	logger.Printf("%s: time=%s mode=%s tiles=%d/%d",
		*manifestPath, manifest.Time, manifest.Mode, manifest.TilesIncluded, manifest.TilesTotal)
	return nil
}

func runUpgradeIndex(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("upgrade-index", flag.ExitOnError)
	timeName := fs.String("time", "", "snapshot name, e.g. t000")
	root := fs.String("root", ".", "storage root")
	defaultTileSize := fs.Int("default-tile-size", 32, "fallback tile size if not inferable")
	fs.Parse(args)

	if *timeName == "" {
		return fmt.Errorf("--time is required")
	}

	indexPath := filepath.Join(*root, "data", "civd_time", *timeName, "index.json")
	if err := civd.UpgradeIndexInPlace(indexPath, *defaultTileSize); err != nil {
		return err
	}

	logger.Printf("%s: upgraded to %s", indexPath, civd.SchemaVersionIndex)
	return nil
}
