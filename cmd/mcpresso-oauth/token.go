package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mcpresso/mcpresso-oauth/server"
	"github.com/mcpresso/mcpresso-oauth/token"
)

type tokenFlags struct {
	secret    string
	algorithm string
}

func (f *tokenFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.secret, "secret", "", "HMAC signing secret (default $"+server.EnvJWTSecret+")")
	cmd.Flags().StringVar(&f.algorithm, "alg", token.AlgorithmHS256, "Signing algorithm (HS256, HS384, HS512)")
}

func (f *tokenFlags) signer() (*token.Signer, error) {
	secret := f.secret
	if secret == "" {
		secret = os.Getenv(server.EnvJWTSecret)
	}
	if secret == "" {
		return nil, fmt.Errorf("a signing secret is required (--secret or $%s)", server.EnvJWTSecret)
	}
	return token.NewSigner(secret, f.algorithm)
}

func newTokenCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign and verify access token JWTs",
	}
	cmd.AddCommand(newTokenSignCmd(), newTokenVerifyCmd(opts))
	return cmd
}

func newTokenSignCmd() *cobra.Command {
	var (
		flags    tokenFlags
		issuer   string
		subject  string
		audience string
		clientID string
		scope    string
		ttl      time.Duration
		extra    []string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an access token JWT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := flags.signer()
			if err != nil {
				return err
			}

			claims := token.Claims{"jti": uuid.NewString()}
			for name, value := range map[string]string{
				"iss":       issuer,
				"sub":       subject,
				"aud":       audience,
				"client_id": clientID,
				"scope":     scope,
			} {
				if value != "" {
					claims[name] = value
				}
			}
			for _, kv := range extra {
				name, value, ok := strings.Cut(kv, "=")
				if !ok || name == "" {
					return fmt.Errorf("invalid --claim %q, want name=value", kv)
				}
				claims[name] = value
			}

			signed, err := signer.Sign(claims, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&issuer, "iss", "", "Issuer claim")
	cmd.Flags().StringVar(&subject, "sub", "", "Subject (user id) claim")
	cmd.Flags().StringVar(&audience, "aud", "", "Audience (resource) claim")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client_id claim")
	cmd.Flags().StringVar(&scope, "scope", "", "Space separated scope claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().StringArrayVar(&extra, "claim", nil, "Additional string claim as name=value (repeatable)")
	return cmd
}

func newTokenVerifyCmd(opts *globalOptions) *cobra.Command {
	var flags tokenFlags

	cmd := &cobra.Command{
		Use:   "verify <jwt>",
		Short: "Verify a JWT signature and expiry and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !token.LooksLikeJWT(args[0]) {
				return errors.New("argument is not a compact JWT")
			}
			signer, err := flags.signer()
			if err != nil {
				return err
			}
			claims, err := signer.Verify(args[0])
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), claims)
			}
			names := make([]string, 0, len(claims))
			for name := range claims {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", name, claims[name])
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
