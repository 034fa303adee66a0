// Package main provides a CLI for signing chat login challenges with a Hive
// posting key, for local testing without a browser wallet.
//
// Usage:
//
//	sign-challenge -new-key
//	sign-challenge -wif WIF -challenge TEXT
//	sign-challenge -wif WIF -username NAME -server http://localhost:3001
//
// Flags:
//
//	-new-key:   generate a posting key pair and print the WIF and public key
//	-wif:       posting private key in WIF form (default: $HIVE_POSTING_WIF)
//	-challenge: text to sign; ignored with -server
//	-server:    fetch a server challenge, sign it and log in as -username
//	-username:  account to log in as with -server
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/onnwee/vimm-chat/hive"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("sign-challenge failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign-challenge", flag.ContinueOnError)
	newKey := fs.Bool("new-key", false, "Generate a posting key pair")
	wif := fs.String("wif", os.Getenv("HIVE_POSTING_WIF"), "Posting private key (WIF)")
	challenge := fs.String("challenge", "", "Challenge text to sign")
	server := fs.String("server", "", "Chat server base URL; fetch a challenge and log in")
	username := fs.String("username", "", "Account to log in as (with -server)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *newKey {
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Fprintf(out, "wif=%s\npublic=%s\n", hive.EncodeWIF(priv), hive.EncodePublicKey(priv.PubKey()))
		return nil
	}

	if *wif == "" {
		return errors.New("-wif or HIVE_POSTING_WIF is required")
	}
	priv, err := hive.DecodeWIF(*wif)
	if err != nil {
		return fmt.Errorf("decode wif: %w", err)
	}

	if *server != "" {
		if *username == "" {
			return errors.New("-username is required with -server")
		}
		token, err := login(ctx, http.DefaultClient, strings.TrimRight(*server, "/"), *username, priv)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "token=%s\n", token)
		return nil
	}

	if *challenge == "" {
		return errors.New("-challenge is required")
	}
	fmt.Fprintf(out, "public=%s\nsignature=%s\n", hive.EncodePublicKey(priv.PubKey()), hive.SignMessage(priv, *challenge))
	return nil
}

// login runs the challenge handshake against a chat server and returns the
// session token.
func login(ctx context.Context, client *http.Client, base, username string, priv *secp256k1.PrivateKey) (string, error) {
	var ch struct {
		Challenge string `json:"challenge"`
	}
	if err := doJSON(ctx, client, http.MethodGet, base+"/api/chat/challenge", nil, &ch); err != nil {
		return "", fmt.Errorf("fetch challenge: %w", err)
	}

	body := map[string]string{
		"username":    username,
		"challenge":   ch.Challenge,
		"signature":   hive.SignMessage(priv, ch.Challenge),
		"hiveAccount": username,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := doJSON(ctx, client, http.MethodPost, base+"/api/chat/auth", body, &resp); err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("authenticate: empty token")
	}
	return resp.Token, nil
}

func doJSON(ctx context.Context, client *http.Client, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
