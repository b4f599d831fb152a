package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"atomicqueue/cmd/internal/passphrase"
	"atomicqueue/crypto"
)

var newPassphraseSource = func() *passphrase.Source { return passphrase.NewSource(passphraseEnv) }

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--keystore is required")
	}
	pass, err := newPassphraseSource().Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "", "keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return printError(stderr, "--out is required")
	}
	if _, err := os.Stat(*out); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists", *out))
	}
	pass, err := newPassphraseSource().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return printError(stderr, err.Error())
	}
	printIdentity(stdout, key)
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keystore := fs.String("keystore", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keystore)
	if err != nil {
		return printError(stderr, err.Error())
	}
	printIdentity(stdout, key)
	return 0
}

func printIdentity(w io.Writer, key *crypto.PrivateKey) {
	id := key.Identity()
	fmt.Fprintf(w, "%s\n%s\n", crypto.FromCommon(crypto.AccountPrefix, id).String(), id.Hex())
}
