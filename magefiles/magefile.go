//go:build mage

// Package main provides build targets for todocheck using Mage.
//
// Usage:
//
//	mage build         Compile the todocheck binary to bin/
//	mage test          Run all package tests
//	mage testBrowser   Run tests including the real-browser ones
//	mage lint          Run golangci-lint
//	mage clean         Remove build artifacts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binLint    = "golangci-lint"
	binaryName = "todocheck"
	binaryDir  = "bin"
	cmdDir     = "./cmd/todocheck"
)

// Build compiles the todocheck binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Test runs all tests against the in-memory application.
func Test() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// TestBrowser runs the tests including those that drive a real Chrome.
func TestBrowser() error {
	mg.Deps(Build)
	env := map[string]string{"TODOCHECK_BROWSER_TESTS": "1"}
	return sh.RunWithV(env, binGo, "test", "./...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV(binLint, "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	if err := os.RemoveAll("artifacts"); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}
