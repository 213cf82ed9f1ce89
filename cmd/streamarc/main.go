package main

import (
	"fmt"
	"os"

	"streamarc/pkg/archive"
	"streamarc/pkg/env"
	"streamarc/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

func main() {
	// Load environment variables for logger bootstrap
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}
	logger.Init(env.LogLevel())

	if len(os.Args) < 3 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(os.Args[2])
	case "extract":
		if len(os.Args) < 4 {
			usage()
			os.Exit(2)
		}
		err = runExtract(os.Args[2], os.Args[3])
	case "cat":
		if len(os.Args) < 4 {
			usage()
			os.Exit(2)
		}
		err = runCat(os.Args[2], os.Args[3])
	case "decompress":
		err = runDecompress(os.Args[2])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("Command failed", "command", os.Args[1], "err", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  streamarc list <archive>              list entry names
  streamarc extract <archive> <dir>     unpack all entries into dir
  streamarc cat <archive> <entry>       stream one entry to stdout
  streamarc decompress <file>           decode a bare compressed blob to stdout
`)
}

func runList(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	names, err := archive.ListFiles(f)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runExtract(path, dir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := archive.ExtractAll(f, afero.NewOsFs(), dir)
	if err != nil {
		return err
	}
	logger.Info("Extraction complete", "archive", path, "dir", dir, "bytes", n)
	return nil
}

func runCat(path, entry string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = archive.ExtractFile(f, os.Stdout, entry)
	return err
}

func runDecompress(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = archive.DecompressData(f, os.Stdout)
	return err
}
