// Command oxidiskimg is a standalone utility over the Image Engine's
// streaming primitives: it exposes the hash and gzip operations
// backup_image/hash_image use internally, for scripted verification of a
// backup file against its original source without spinning up the full
// dispatcher/journal stack.
package main

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/oxidisk/oxidisk/image"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "hash":
		err = runHash(os.Args[2:])
	case "gzip":
		err = runGzip(os.Args[2:])
	case "gunzip":
		err = runGunzip(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "oxidiskimg: %s\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  %s hash FILE            print the SHA-256 of FILE
  %s gzip IN OUT          compress IN into OUT
  %s gunzip IN OUT        decompress IN into OUT
`, os.Args[0], os.Args[0], os.Args[0])
}

func runHash(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("hash: exactly one FILE argument is required")
	}
	result, err := image.HashImage(context.Background(), nil, args[0])
	if err != nil {
		return err
	}
	fmt.Println(result.Details.(map[string]string)["sha256"])
	return nil
}

func runGzip(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("gzip: IN and OUT arguments are required")
	}
	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer in.Close()

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("creating %s: %w", args[1], err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	written, err := io.Copy(gw, in)
	if err != nil {
		return fmt.Errorf("compressing: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("flushing gzip writer: %w", err)
	}
	fmt.Printf("compressed %d bytes\n", written)
	return nil
}

func runGunzip(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("gunzip: IN and OUT arguments are required")
	}
	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("reading gzip header: %w", err)
	}
	defer gr.Close()

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("creating %s: %w", args[1], err)
	}
	defer out.Close()

	written, err := io.Copy(out, gr)
	if err != nil {
		return fmt.Errorf("decompressing: %w", err)
	}
	fmt.Printf("decompressed to %d bytes\n", written)
	return nil
}
