// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/easyaccess/pkg/easyaccess"
	"github.com/stacklok/easyaccess/pkg/logger"
)

type loginFlags struct {
	lang         string
	pollInterval time.Duration
	timeout      time.Duration
	showTokens   bool
	jsonOutput   bool
}

func newLoginCmd() *cobra.Command {
	var flags loginFlags

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the registered device",
		Long: `Start an authorization session, print the login code and the deep link of the
EasyAccess app, wait for the login to be approved and exchange the authorization
code for tokens. The ID token is validated before anything is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return loginCmdFunc(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.lang, "lang", "", "Preferred language of the approval labels, e.g. fi or \"fi, en;q=0.8\"")
	cmd.Flags().DurationVar(&flags.pollInterval, "poll-interval", 0, "Delay between approval state checks (overrides config)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 5*time.Minute, "Give up waiting for approval after this long")
	cmd.Flags().BoolVar(&flags.showTokens, "show-tokens", false, "Print the access and ID tokens")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the result as JSON")

	return cmd
}

func loginCmdFunc(cmd *cobra.Command, flags loginFlags) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
	defer cancel()

	s, err := loadSettings()
	if err != nil {
		return err
	}
	reg, err := s.provider.GetRegistration()
	if err != nil {
		return err
	}
	if flags.pollInterval > 0 {
		s.cfg.PollInterval = flags.pollInterval
	}

	eng, err := newEngine(ctx, s)
	if err != nil {
		return err
	}
	defer eng.logStepDurations()

	session, err := easyaccess.NewSession(*reg, eng.keys, eng.options...)
	if err != nil {
		return err
	}
	// no-op once the session is Validated or Failed
	defer session.Abandon()

	out := cmd.OutOrStdout()
	artifact, err := session.Start(ctx)
	if err != nil {
		return err
	}
	if !flags.jsonOutput {
		fmt.Fprintf(out, "Login code: %s\n", artifact.LoginCode)
		fmt.Fprintf(out, "Open in the EasyAccess app: %s\n", artifact.AppLink)
	}

	lang := flags.lang
	if lang == "" {
		lang = artifact.Lang
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		md, err := session.Approval().FetchMetadata(gctx, artifact.LoginCode)
		if err != nil {
			// labels are informational only
			logger.Debugf("failed to fetch approval metadata: %v", err)
			return nil
		}
		if !flags.jsonOutput {
			printMetadata(out, md, lang)
		}
		return nil
	})
	g.Go(func() error {
		_, err := session.AwaitApproval(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("login was not approved: %w", err)
	}

	tokens, err := session.Complete(ctx)
	if err != nil {
		return err
	}
	return printTokens(out, tokens, flags)
}

func printMetadata(out io.Writer, md *easyaccess.Metadata, lang string) {
	for _, v := range md.Values {
		if value, ok := md.Lookup(v.Key, lang); ok {
			fmt.Fprintf(out, "  %s: %s\n", v.Key, value)
		}
	}
}

type loginResult struct {
	Subject     string    `json:"subject"`
	TokenType   string    `json:"token_type"`
	Scope       string    `json:"scope,omitempty"`
	Expiry      time.Time `json:"expiry,omitzero"`
	AccessToken string    `json:"access_token,omitempty"`
	IDToken     string    `json:"id_token,omitempty"`
}

func printTokens(out io.Writer, tokens *easyaccess.TokenSet, flags loginFlags) error {
	result := loginResult{
		Subject:   tokens.Subject,
		TokenType: tokens.TokenType,
		Scope:     tokens.Scope,
		Expiry:    tokens.Expiry,
	}
	if flags.showTokens {
		result.AccessToken = tokens.AccessToken
		result.IDToken = tokens.IDToken
	}

	if flags.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "Signed in as %s\n", result.Subject)
	fmt.Fprintf(out, "Token type: %s\n", result.TokenType)
	if !result.Expiry.IsZero() {
		fmt.Fprintf(out, "Expires: %s\n", result.Expiry.Format(time.RFC3339))
	}
	if flags.showTokens {
		fmt.Fprintf(out, "Access token: %s\n", result.AccessToken)
		fmt.Fprintf(out, "ID token: %s\n", result.IDToken)
	}
	return nil
}
