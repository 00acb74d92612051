package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dhawalhost/contactguard/pkg/client"
	"github.com/golang-jwt/jwt/v5"
)

const defaultBaseURL = "http://localhost:3000"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "create":
		err = runResult("create", os.Args[2:], false)
	case "update":
		err = runResult("update", os.Args[2:], true)
	case "delete":
		err = runResult("delete", os.Args[2:], true)
	case "token":
		err = runToken(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	c := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	contacts, err := c().ListContacts(context.Background())
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		fmt.Println("No contacts visible to this principal")
		return nil
	}
	for _, ct := range contacts {
		fmt.Printf("- %s %s %s (%s) owner=%s\n", ct.ID, ct.FirstName, ct.LastName, ct.Company, ct.OwnerID)
		if len(ct.Tags) > 0 {
			fmt.Printf("  Tags: %s\n", strings.Join(ct.Tags, ", "))
		}
	}
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	c := addCommonFlags(fs)
	id := fs.String("id", "", "Contact identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("id is required")
	}

	ct, err := c().GetContact(context.Background(), *id)
	if err != nil {
		return err
	}
	prettyPrint(ct)
	return nil
}

func runResult(cmd string, args []string, needsID bool) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	c := addCommonFlags(fs)
	id := fs.String("id", "", "Contact identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if needsID && *id == "" {
		return fmt.Errorf("id is required")
	}

	ctx := context.Background()
	var (
		msg string
		err error
	)
	switch cmd {
	case "create":
		msg, err = c().CreateContact(ctx)
	case "update":
		msg, err = c().UpdateContact(ctx, *id)
	case "delete":
		msg, err = c().DeleteContact(ctx, *id)
	}
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// runToken mints an HS256 token for local testing against a service
// configured with the same shared secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secret := fs.String("secret", os.Getenv("CONTACTGUARD_JWT_SECRET"), "Shared HS256 secret")
	id := fs.String("sub-id", "", "Principal id claim")
	roles := fs.String("roles", "", "Comma-separated roles")
	attrs := fs.String("attr", "", "Comma-separated key=value claims")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" || *id == "" {
		return fmt.Errorf("secret and sub-id are required")
	}

	claims := jwt.MapClaims{
		"id":  *id,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(*ttl).Unix(),
	}
	if r := splitAndClean(*roles); len(r) > 0 {
		claims["roles"] = r
	}
	for _, kv := range splitAndClean(*attrs) {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid attribute %q, want key=value", kv)
		}
		if _, reserved := claims[key]; reserved {
			return fmt.Errorf("attribute %q collides with a reserved claim", key)
		}
		claims[key] = value
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*secret))
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func addCommonFlags(fs *flag.FlagSet) func() *client.Client {
	baseURL := fs.String("base-url", defaultBaseURL, "Contacts service base URL")
	token := fs.String("token", os.Getenv("CONTACTCTL_TOKEN"), "Bearer token (defaults to $CONTACTCTL_TOKEN)")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	return func() *client.Client {
		return client.New(client.Config{BaseURL: *baseURL, Token: *token, Timeout: *timeout})
	}
}

func splitAndClean(values string) []string {
	if strings.TrimSpace(values) == "" {
		return nil
	}
	parts := strings.Split(values, ",")
	var cleaned []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func prettyPrint(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}

func usage() {
	fmt.Print(`Usage: contactctl <command> [options]

Commands:
  list        List the contacts the token may see
  get         Fetch a single contact (-id)
  create      Create a contact
  update      Update a contact (-id)
  delete      Delete a contact (-id)
  token       Mint an HS256 test token (-secret, -sub-id, -roles, -attr)

Global options:
	-base-url   Contacts service base URL (default http://localhost:3000)
	-token      Bearer token (default $CONTACTCTL_TOKEN)
`)
}
