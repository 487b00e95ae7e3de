// Command enroll derives SRP registration material for a new account. The
// username and password never leave this process: the server receives only
// the blinded username hash, the SRP salt and verifier, and the master-key
// salt printed here.
package main

import (
	"crypto/sha256"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/term"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/srp"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

const saltSize = 16

// registration is what the server's Register operation expects.
type registration struct {
	UsernameHash  []byte `json:"username_hash"`
	SRPSalt       []byte `json:"srp_salt"`
	SRPVerifier   []byte `json:"srp_verifier"`
	MasterKeySalt []byte `json:"master_key_salt"`
}

func deriveSecret(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

func enroll(username string, password []byte) *registration {
	usernameHash := sha256.Sum256([]byte(username))
	srpSalt := common.GenerateRandByteArray(saltSize)
	masterKeySalt := common.GenerateRandByteArray(saltSize)

	secret := deriveSecret(password, masterKeySalt)
	defer common.WipeByteArray(secret)

	verifier := srp.ComputeVerifier(srp.DefaultGroup, srpSalt, secret)

	return &registration{
		UsernameHash:  usernameHash[:],
		SRPSalt:       srpSalt,
		SRPVerifier:   verifier,
		MasterKeySalt: masterKeySalt,
	}
}

func run(username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("password read error: %w", err)
	}
	defer common.WipeByteArray(password)

	fmt.Fprint(os.Stderr, "Repeat password: ")
	confirm, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("password read error: %w", err)
	}
	defer common.WipeByteArray(confirm)

	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	out, err := json.MarshalIndent(enroll(username, password), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	username := flag.String("u", "", "username to enroll")
	flag.Parse()

	if err := run(*username); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
