package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/mcpresso/mcpresso-oauth/pkce"
)

type pkcePairOutput struct {
	Verifier  string `json:"code_verifier"`
	Challenge string `json:"code_challenge"`
	Method    string `json:"code_challenge_method"`
}

func newPKCECmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pkce",
		Short: "Generate and check PKCE verifier/challenge pairs",
	}
	cmd.AddCommand(newPKCEGenerateCmd(opts), newPKCEVerifyCmd())
	return cmd
}

func newPKCEGenerateCmd(opts *globalOptions) *cobra.Command {
	var (
		length int
		method string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a code verifier and its challenge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !pkce.IsSupportedMethod(method) {
				return fmt.Errorf("unsupported method %q", method)
			}

			// Without an explicit length use the 43 character verifier
			// recommended by RFC 7636.
			var verifier string
			if length == 0 {
				verifier = oauth2.GenerateVerifier()
			} else {
				v, err := pkce.GenerateVerifier(length)
				if err != nil {
					return err
				}
				verifier = v
			}

			challenge, err := pkce.ComputeChallenge(verifier, method)
			if err != nil {
				return err
			}

			out := pkcePairOutput{Verifier: verifier, Challenge: challenge, Method: method}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "code_verifier:         %s\n", out.Verifier)
			fmt.Fprintf(cmd.OutOrStdout(), "code_challenge:        %s\n", out.Challenge)
			fmt.Fprintf(cmd.OutOrStdout(), "code_challenge_method: %s\n", out.Method)
			return nil
		},
	}

	cmd.Flags().IntVar(&length, "length", 0, "Verifier length between 43 and 128 (default 43)")
	cmd.Flags().StringVar(&method, "method", pkce.MethodS256, "Challenge method (S256 or plain)")
	return cmd
}

func newPKCEVerifyCmd() *cobra.Command {
	var method string

	cmd := &cobra.Command{
		Use:   "verify <verifier> <challenge>",
		Short: "Check that a verifier matches a challenge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := pkce.ValidateVerifier(args[0]); err != nil {
				return err
			}
			if !pkce.VerifyChallenge(args[0], args[1], method) {
				return errors.New("code verifier does not match challenge")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", pkce.MethodS256, "Challenge method (S256 or plain)")
	return cmd
}
