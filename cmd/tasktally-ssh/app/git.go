package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasktally/tasktally-ssh/internal/git"
)

const flagCredential = "credential"

func newCloneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone URI DIR",
		Short: "Shallow-clone a repository over SSH",
		Long: `Shallow-clone a single branch of an SSH repository using a stored credential.
The target directory must not exist or be empty. A failed clone leaves no partial checkout.`,
		Args: cobra.ExactArgs(2),
		RunE: runClone,
	}
	cmd.Flags().String(flagCredential, "", "Name of the SSH credential to use (required)")
	cmd.Flags().String("branch", "", "Branch to clone (defaults to the remote HEAD)")
	cmd.Flags().String("print", "", "Print this file from the cloned HEAD")
	_ = cmd.MarkFlagRequired(flagCredential)
	return cmd
}

func runClone(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	uri, dir := args[0], args[1]
	name, err := cmd.Flags().GetString(flagCredential)
	if err != nil {
		return fmt.Errorf("failed to get credential flag: %w", err)
	}
	branch, err := cmd.Flags().GetString("branch")
	if err != nil {
		return fmt.Errorf("failed to get branch flag: %w", err)
	}
	printPath, err := cmd.Flags().GetString("print")
	if err != nil {
		return fmt.Errorf("failed to get print flag: %w", err)
	}
	user, err := currentUser()
	if err != nil {
		return err
	}

	env, err := setupEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close(ctx)

	cred, err := env.credentials.Get(ctx, user, name)
	if err != nil {
		return err
	}
	info, err := env.transport.Clone(ctx, *cred, uri, branch, dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cloned %s (%s at %s) into %s\n", uri, info.Branch, shortHash(info.Head), dir)
	if printPath == "" {
		return nil
	}
	content, err := git.NewDefaultGitClient().GetFileContent(info, printPath)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(content)
	return err
}

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push DIR",
		Short: "Commit all changes in a clone and push them to origin",
		Args:  cobra.ExactArgs(1),
		RunE:  runPush,
	}
	cmd.Flags().String(flagCredential, "", "Name of the SSH credential to use (required)")
	cmd.Flags().StringP("message", "m", "", "Commit message (required)")
	cmd.Flags().String("author-name", "tasktally", "Commit author name")
	cmd.Flags().String("author-email", "tasktally@localhost", "Commit author email")
	_ = cmd.MarkFlagRequired(flagCredential)
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func runPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := args[0]
	flags := cmd.Flags()
	name, err := flags.GetString(flagCredential)
	if err != nil {
		return fmt.Errorf("failed to get credential flag: %w", err)
	}
	message, err := flags.GetString("message")
	if err != nil {
		return fmt.Errorf("failed to get message flag: %w", err)
	}
	authorName, err := flags.GetString("author-name")
	if err != nil {
		return fmt.Errorf("failed to get author-name flag: %w", err)
	}
	authorEmail, err := flags.GetString("author-email")
	if err != nil {
		return fmt.Errorf("failed to get author-email flag: %w", err)
	}
	user, err := currentUser()
	if err != nil {
		return err
	}

	env, err := setupEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close(ctx)

	cred, err := env.credentials.Get(ctx, user, name)
	if err != nil {
		return err
	}
	commit, err := env.transport.CommitAndPush(ctx, *cred, dir, authorName, authorEmail, message)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s to %s\n", shortHash(commit.Hash), commit.Branch)
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
