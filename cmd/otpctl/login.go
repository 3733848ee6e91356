package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalix/phoneauth/internal/client"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Server string
	Phone  string
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a phone number against a running server",
		Long: `Request a code, prompt for it and verify it, honoring the resend
cooldown and attempt limits. Enter an empty line to ask for a new code.

Examples:
  otpctl login --phone +447911123456
  otpctl login --server https://auth.example.com --phone +256701234567`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.Phone) == "" {
				return errors.New("--phone is required")
			}
			api := client.NewAPI(opts.Server, nil, opts.logger)
			ctrl := client.NewController(client.DefaultConfig(), nil)
			prompt := &terminalPrompt{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}

			res, err := client.NewFlow(api, ctrl, prompt).Login(cmd.Context(), opts.Phone)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				return printJSON(out, res)
			}
			fmt.Fprintln(out, res.Message)
			if res.SessionError != "" {
				fmt.Fprintln(out, "warning:", res.SessionError)
			}
			if res.AccessToken != "" {
				fmt.Fprintf(out, "%s %s\nrefresh: %s\n", res.TokenType, res.AccessToken, res.RefreshToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number to sign in with")

	return cmd
}

type terminalPrompt struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *terminalPrompt) ReadCode(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, "code (empty line to resend): ")
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *terminalPrompt) Notify(msg string) {
	fmt.Fprintln(p.out, msg)
}
