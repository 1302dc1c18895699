package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"

	"github.com/bip47-showcase/auth47/bsm"
	"github.com/bip47-showcase/auth47/protocol"
)

// walletProof is the body a wallet sends to the callback
type walletProof struct {
	Response  string `json:"auth47_response"`
	Challenge string `json:"challenge"`
	Nym       string `json:"nym"`
	Signature string `json:"signature"`
}

func newSignCmd() *cobra.Command {
	var wif string
	var server string
	var submit bool

	cmd := &cobra.Command{
		Use:   "sign [uri]",
		Short: "Sign a challenge URI like a wallet would",
		Long: `Sign an auth47 challenge URI with a WIF key and print the proof as JSON.

Without a URI argument a fresh challenge is fetched from --server.
With --submit the proof is posted to the callback named in the URI.

Examples:
  auth47d sign --wif L1... 'auth47://3f2a...?c=http://localhost:3001/api/auth/authenticate&e=1700000300'
  auth47d sign --wif L1... --server http://localhost:3001 --submit`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := btcutil.DecodeWIF(wif)
			if err != nil {
				return fmt.Errorf("invalid WIF: %w", err)
			}

			ctx := cmd.Context()
			var uri string
			if len(args) == 1 {
				uri = args[0]
			} else {
				uri, err = fetchChallenge(ctx, server)
				if err != nil {
					return err
				}
			}

			proof, err := signChallenge(uri, key)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(proof); err != nil {
				return err
			}

			if !submit {
				return nil
			}
			status, body, err := submitProof(ctx, proof)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "callback answered %d\n%s\n", status, body)
			return nil
		},
	}

	cmd.Flags().StringVar(&wif, "wif", "", "private key in WIF")
	cmd.Flags().StringVar(&server, "server", "http://localhost:3001", "server to fetch a challenge from")
	cmd.Flags().BoolVar(&submit, "submit", false, "post the proof to the challenge callback")
	_ = cmd.MarkFlagRequired("wif")

	return cmd
}

func newKeygenCmd() *cobra.Command {
	var uncompressed bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a mainnet WIF key for testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := btcec.NewPrivateKey()
			if err != nil {
				return err
			}
			wif, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, !uncompressed)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wif: %s\nnym: %s\n", wif.String(), hex.EncodeToString(wif.SerializePubKey()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&uncompressed, "uncompressed", false, "use an uncompressed public key")

	return cmd
}

// signChallenge builds the proof for uri; the nym is the hex public key.
func signChallenge(uri string, key *btcutil.WIF) (*walletProof, error) {
	if _, err := protocol.ParseNonce(uri); err != nil {
		return nil, err
	}

	sig, err := bsm.Sign(uri, key.PrivKey, key.CompressPubKey)
	if err != nil {
		return nil, err
	}

	return &walletProof{
		Response:  protocol.Version,
		Challenge: uri,
		Nym:       hex.EncodeToString(key.SerializePubKey()),
		Signature: sig,
	}, nil
}

var httpClient = &http.Client{Timeout: 15 * time.Second}

func fetchChallenge(ctx context.Context, server string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/api/auth/challenge", nil)
	if err != nil {
		return "", err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch challenge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch challenge: server answered %s", resp.Status)
	}

	var body struct {
		URI string `json:"auth47Uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode challenge: %w", err)
	}
	return body.URI, nil
}

func submitProof(ctx context.Context, proof *walletProof) (int, string, error) {
	uri, err := protocol.ParseURI(proof.Challenge)
	if err != nil {
		return 0, "", err
	}
	if uri.CallbackURL == "" {
		return 0, "", fmt.Errorf("challenge carries no callback")
	}

	payload, err := json.Marshal(proof)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("submit proof: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}
