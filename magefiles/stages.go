//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Fetch downloads and converts the default page range using the built CLI.
func Fetch(first, last string) error {
	mg.Deps(Build)
	return run("fetch", first, last)
}

// Locate identifies the programs in a page range using the built CLI.
func Locate(first, last string) error {
	mg.Deps(Build)
	return run("locate", first, last)
}

// Extract transcribes all located programs using the built CLI.
func Extract() error {
	mg.Deps(Build)
	return run("extract")
}

// Catalog indexes the extracted listings using the built CLI.
func Catalog() error {
	mg.Deps(Build)
	return run("catalog", "store")
}

func run(args ...string) error {
	bin := filepath.Join(binDir, binName)
	return sh.RunV(bin, args...)
}
