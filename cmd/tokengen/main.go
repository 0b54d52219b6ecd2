// tokengen provisions the check-in system: it mints access tokens for
// devices, operators and the booking system, generates credential
// signing keys and hashes supervisor PINs.
//
// Usage:
//
//	tokengen token --role DEVICE --subject gate-a [--ttl 12h]
//	tokengen key [--id 2026a]
//	tokengen pin --pin 2468 [--cost 12]
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iliyamo/event-checkin/internal/credential"
	"github.com/iliyamo/event-checkin/internal/utils"
)

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: tokengen token|key|pin [flags]")
	}
	cmd, args := args[0], args[1:]
	flagSet := pflag.NewFlagSet("tokengen "+cmd, pflag.ContinueOnError)

	switch cmd {
	case "token":
		secret := flagSet.String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret (default $JWT_SECRET)")
		role := flagSet.String("role", utils.RoleDevice, "DEVICE, OPERATOR or ISSUER")
		subject := flagSet.String("subject", "", "device id or account name")
		ttl := flagSet.Duration("ttl", 12*time.Hour, "token lifetime")
		if err := flagSet.Parse(args); err != nil {
			return err
		}
		r := strings.ToUpper(*role)
		switch r {
		case utils.RoleDevice, utils.RoleOperator, utils.RoleIssuer:
		default:
			return fmt.Errorf("unknown role %q", *role)
		}
		if *secret == "" {
			return errors.New("no signing secret: set --secret or JWT_SECRET")
		}
		tok, err := utils.NewAccessToken(*secret, *subject, r, *ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, tok.Token)
		return nil

	case "key":
		id := flagSet.String("id", time.Now().UTC().Format("2006-01"), "key id")
		if err := flagSet.Parse(args); err != nil {
			return err
		}
		if strings.ContainsAny(*id, ":, ") {
			return fmt.Errorf("key id %q may not contain ':', ',' or spaces", *id)
		}
		key, err := utils.RandomHex(credential.MinKeySize)
		if err != nil {
			return err
		}
		// Append to CHECKIN_KEYS; the first entry signs.
		fmt.Fprintf(stdout, "%s:%s\n", *id, key)
		return nil

	case "pin":
		pin := flagSet.String("pin", "", "supervisor PIN (read from stdin when empty)")
		cost := flagSet.Int("cost", 12, "bcrypt cost")
		if err := flagSet.Parse(args); err != nil {
			return err
		}
		p := *pin
		if p == "" {
			line, err := bufio.NewReader(stdin).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			p = line
		}
		hash, err := utils.HashPIN(p, *cost)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, hash)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}
