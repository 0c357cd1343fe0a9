// Command authctl is an operator tool for password hashes, sortable ids and
// session tokens.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatarra.io/internal/auth"
	"chatarra.io/internal/ids"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		return usage(stderr)
	}
	var err error
	switch args[0] {
	case "hash-password":
		err = runHashPassword(args[1:], stdin, stdout)
	case "new-id":
		err = runNewID(args[1:], stdout)
	case "decode-id":
		err = runDecodeID(args[1:], stdout)
	case "verify-token":
		err = runVerifyToken(args[1:], stdout)
	default:
		return usage(stderr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

// runHashPassword reads the password from the first line of stdin so it
// never lands in shell history.
func runHashPassword(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	cost := fs.Int("cost", auth.DefaultPasswordCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	hash, err := auth.NewBcryptHasher(*cost).Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

func runNewID(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("new-id", flag.ContinueOnError)
	count := fs.Int("n", 1, "number of ids")
	offset := fs.Int64("offset", 0, "milliseconds added to the first id; later ids step by 1ms")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count < 1 {
		return fmt.Errorf("-n must be positive")
	}
	for i := 0; i < *count; i++ {
		fmt.Fprintln(stdout, ids.WithOffset(*offset+int64(i)))
	}
	return nil
}

func runDecodeID(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one id")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "version=%d time=%s\n", id.Version(), ids.Time(id).Format(time.RFC3339Nano))
	return nil
}

// runVerifyToken validates a token with the secret from CHATARRA_AUTH_SECRET
// and prints its claims.
func runVerifyToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("verify-token", flag.ContinueOnError)
	issuer := fs.String("issuer", auth.DefaultIssuer, "expected issuer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one token")
	}
	tokens, err := auth.NewTokenIssuer(os.Getenv("CHATARRA_AUTH_SECRET"), auth.WithIssuer(*issuer))
	if err != nil {
		return err
	}
	claims, err := tokens.Validate(fs.Arg(0))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(claims)
}

func usage(w io.Writer) int {
	fmt.Fprintf(w, "usage: authctl <hash-password [-cost N] | new-id [-n N] [-offset MS] | decode-id ID | verify-token [-issuer ISS] TOKEN>\n")
	return 2
}
