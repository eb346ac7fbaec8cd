package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tasktally/tasktally-ssh/internal/credentials"
	"github.com/tasktally/tasktally-ssh/internal/sshkey"
)

const (
	flagName          = "name"
	flagProvider      = "provider"
	flagKnownHosts    = "known-hosts-file"
	flagHostname      = "hostname"
	flagPassphrase    = "passphrase"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage SSH credentials",
	}
	cmd.AddCommand(
		newCredentialsCreateCmd(),
		newCredentialsGenerateCmd(),
		newCredentialsListCmd(),
		newCredentialsDeleteCmd(),
		newCredentialsPublicKeyCmd(),
	)
	return cmd
}

func addMaterialFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagName, "", "Credential name (required)")
	cmd.Flags().String(flagProvider, credentials.ProviderGitHub, "Git provider (github or gitlab)")
	cmd.Flags().String(flagKnownHosts, "", "File with known_hosts lines for the provider")
	cmd.Flags().String(flagHostname, "", "Scan this host for known_hosts lines instead of reading a file")
	cmd.Flags().Bool(flagPassphrase, false, "Read a key passphrase from the terminal or stdin")
	_ = cmd.MarkFlagRequired(flagName)
	cmd.MarkFlagsMutuallyExclusive(flagKnownHosts, flagHostname)
}

func newCredentialsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store an existing private key as a credential",
		Args:  cobra.NoArgs,
		RunE:  runCredentialsCreate,
	}
	addMaterialFlags(cmd)
	cmd.Flags().String("private-key-file", "", "OpenSSH or PEM private key file (required)")
	_ = cmd.MarkFlagRequired("private-key-file")
	return cmd
}

func runCredentialsCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	keyPath, err := cmd.Flags().GetString("private-key-file")
	if err != nil {
		return fmt.Errorf("failed to get private-key-file flag: %w", err)
	}
	privateKey, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}
	defer sshkey.Wipe(privateKey)

	return withCredentials(cmd, func(env *environment, user string, m materialInput) error {
		cred, err := env.credentials.Create(ctx, user, credentials.CreateRequest{
			Name:       m.name,
			Provider:   m.provider,
			PrivateKey: privateKey,
			KnownHosts: m.knownHosts,
			Passphrase: m.passphrase,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created credential %s\n", cred.Name)
		return nil
	})
}

func newCredentialsGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an ED25519 key pair and print its public key",
		Long: `Generate an ED25519 key pair, store it as a credential and print the public key so it
can be added as a deploy key.`,
		Args: cobra.NoArgs,
		RunE: runCredentialsGenerate,
	}
	addMaterialFlags(cmd)
	cmd.Flags().String("comment", "", "Public key comment (defaults to task-tally@<user>)")
	return cmd
}

func runCredentialsGenerate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	comment, err := cmd.Flags().GetString("comment")
	if err != nil {
		return fmt.Errorf("failed to get comment flag: %w", err)
	}

	return withCredentials(cmd, func(env *environment, user string, m materialInput) error {
		cred, err := env.credentials.Generate(ctx, user, credentials.GenerateRequest{
			Name:       m.name,
			Provider:   m.provider,
			KnownHosts: m.knownHosts,
			Passphrase: m.passphrase,
			Hostname:   m.hostname,
			Comment:    comment,
		})
		if err != nil {
			return err
		}
		publicKey, err := env.credentials.PublicKey(ctx, user, cred.Name)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(publicKey)
		return err
	})
}

func newCredentialsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the credentials of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			format, err := cmd.Flags().GetString(flagOutput)
			if err != nil {
				return fmt.Errorf("failed to get output flag: %w", err)
			}
			return withUserEnvironment(ctx, func(env *environment, user string) error {
				creds, err := env.credentials.List(ctx, user)
				if err != nil {
					return err
				}
				return writeCredentials(cmd.OutOrStdout(), format, creds)
			})
		},
	}
	cmd.Flags().StringP(flagOutput, "o", formatTable, "Output format (table, json or yaml)")
	return cmd
}

func newCredentialsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a credential and its secrets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withUserEnvironment(ctx, func(env *environment, user string) error {
				if err := env.credentials.Delete(ctx, user, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted credential %s\n", args[0])
				return nil
			})
		},
	}
}

func newCredentialsPublicKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "public-key NAME",
		Short: "Print the public key of a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withUserEnvironment(ctx, func(env *environment, user string) error {
				publicKey, err := env.credentials.PublicKey(ctx, user, args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(publicKey)
				return err
			})
		},
	}
}

// materialInput is the credential material gathered from flags.
type materialInput struct {
	name       string
	provider   string
	knownHosts []byte
	passphrase []byte
	hostname   string
}

func withUserEnvironment(ctx context.Context, fn func(*environment, string) error) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	env, err := setupEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close(ctx)
	return fn(env, user)
}

// withCredentials gathers the material flags shared by create and generate and runs fn.
func withCredentials(cmd *cobra.Command, fn func(*environment, string, materialInput) error) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	var m materialInput
	var err error
	if m.name, err = flags.GetString(flagName); err != nil {
		return fmt.Errorf("failed to get name flag: %w", err)
	}
	if m.provider, err = flags.GetString(flagProvider); err != nil {
		return fmt.Errorf("failed to get provider flag: %w", err)
	}
	knownHostsPath, err := flags.GetString(flagKnownHosts)
	if err != nil {
		return fmt.Errorf("failed to get known-hosts-file flag: %w", err)
	}
	if m.hostname, err = flags.GetString(flagHostname); err != nil {
		return fmt.Errorf("failed to get hostname flag: %w", err)
	}
	withPassphrase, err := flags.GetBool(flagPassphrase)
	if err != nil {
		return fmt.Errorf("failed to get passphrase flag: %w", err)
	}

	if knownHostsPath != "" {
		if m.knownHosts, err = os.ReadFile(knownHostsPath); err != nil {
			return fmt.Errorf("failed to read known_hosts: %w", err)
		}
	}
	if withPassphrase {
		if m.passphrase, err = readPassphrase(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
			return err
		}
		defer sshkey.Wipe(m.passphrase)
	}

	return withUserEnvironment(ctx, func(env *environment, user string) error {
		return fn(env, user, m)
	})
}

// readPassphrase prompts on the terminal when stdin is one and otherwise reads stdin to EOF.
// Surrounding whitespace is removed.
func readPassphrase(in io.Reader, prompt io.Writer) ([]byte, error) {
	var raw []byte
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Key passphrase: ")
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		raw = secret
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		raw = data
	}

	passphrase := bytes.Clone(bytes.TrimSpace(raw))
	sshkey.Wipe(raw)
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	return passphrase, nil
}
