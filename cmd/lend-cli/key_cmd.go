package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"lendcore/crypto"
)

// keyPassphraseEnv supplies the keystore passphrase non-interactively,
// for scripts and tests where no terminal is attached.
const keyPassphraseEnv = "LEND_KEY_PASS"

var readPassphrase = promptPassphrase

func runKeyCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, keyUsage())
		return 1
	}
	switch args[0] {
	case "generate":
		return runKeyGenerate(args[1:], stdout, stderr)
	case "import":
		return runKeyImport(args[1:], stdout, stderr)
	case "inspect":
		return runKeyInspect(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown key subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, keyUsage())
		return 1
	}
}

func runKeyGenerate(args []string, stdout, stderr io.Writer) int {
	fs := newKeyFlagSet("key generate", stderr)
	var path string
	fs.StringVar(&path, "path", "wallet.keystore", "destination keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if _, err := os.Stat(path); err == nil {
		return printArgError(stderr, fmt.Sprintf("%s already exists; move it aside before generating a new key", path))
	}
	passphrase, err := readPassphrase(stderr, true)
	if err != nil {
		return printArgError(stderr, err.Error())
	}
	key, err := crypto.GenerateToKeystore(path, passphrase)
	if err != nil {
		return printArgError(stderr, fmt.Sprintf("generate keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Generated new key in %s\n", path)
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	fmt.Fprintln(stdout, "Store the keystore and passphrase securely. The key cannot be recovered without both.")
	return 0
}

func runKeyImport(args []string, stdout, stderr io.Writer) int {
	fs := newKeyFlagSet("key import", stderr)
	var (
		path string
		from string
	)
	fs.StringVar(&path, "path", "wallet.keystore", "destination keystore file")
	fs.StringVar(&from, "from", "", "file holding the raw or hex-encoded private key")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(from) == "" {
		return printArgError(stderr, "--from is required")
	}
	if _, err := os.Stat(path); err == nil {
		return printArgError(stderr, fmt.Sprintf("%s already exists; move it aside before importing", path))
	}
	raw, err := os.ReadFile(from)
	if err != nil {
		return printArgError(stderr, fmt.Sprintf("read key file: %v", err))
	}
	keyBytes, err := decodeKeyMaterial(raw)
	if err != nil {
		return printArgError(stderr, err.Error())
	}
	key, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return printArgError(stderr, fmt.Sprintf("parse private key: %v", err))
	}
	passphrase, err := readPassphrase(stderr, true)
	if err != nil {
		return printArgError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(path, key, passphrase); err != nil {
		return printArgError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Imported key into %s\n", path)
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	fmt.Fprintln(stdout, "Delete the plaintext key file once you have verified the keystore.")
	return 0
}

func runKeyInspect(args []string, stdout, stderr io.Writer) int {
	fs := newKeyFlagSet("key inspect", stderr)
	var path string
	fs.StringVar(&path, "path", "wallet.keystore", "keystore file to inspect")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	passphrase, err := readPassphrase(stderr, false)
	if err != nil {
		return printArgError(stderr, err.Error())
	}
	key, err := crypto.LoadFromKeystore(path, passphrase)
	if err != nil {
		return printArgError(stderr, fmt.Sprintf("open keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	return 0
}

// decodeKeyMaterial accepts either the raw 32-byte secret or its hex
// encoding, with or without a 0x prefix.
func decodeKeyMaterial(raw []byte) ([]byte, error) {
	if len(raw) == 32 {
		return raw, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	trimmed = strings.TrimPrefix(trimmed, "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("key file must contain 32 raw bytes or their hex encoding")
	}
	return decoded, nil
}

func promptPassphrase(w io.Writer, confirm bool) (string, error) {
	if v, ok := os.LookupEnv(keyPassphraseEnv); ok {
		return v, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; set %s to supply the passphrase", keyPassphraseEnv)
	}
	fmt.Fprint(w, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if confirm {
		fmt.Fprint(w, "Confirm passphrase: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		if string(first) != string(second) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(first), nil
}

func newKeyFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, keyUsage())
	}
	return fs
}

func keyUsage() string {
	return strings.TrimSpace(`Usage:
  lend-cli key <command> [flags]

Commands:
  generate  Generate a new key into an encrypted keystore file
  import    Import an existing private key into a keystore file
  inspect   Print the address held in a keystore file

The passphrase is read from the terminal, or from LEND_KEY_PASS when set.
`)
}
