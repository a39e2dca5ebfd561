package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"dupi-go/internal/app"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassphrase prompts on the terminal without echo. When stdin is not a
// terminal it reads one line, so scripts can pipe the passphrase in.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func readNewPassphrase() (string, error) {
	p, err := readPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", errors.New("passphrase must not be empty")
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return p, nil
	}
	confirm, err := readPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if p != confirm {
		return "", errors.New("passphrases do not match")
	}
	return p, nil
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage catalog snapshots in the configured archives",
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the catalog to every archive",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "SnapshotPush")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		a.PushSnapshot()
		fmt.Println("Snapshot will be published when the catalog closes.")
		return nil
	},
}

var snapshotCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that every archive is reachable",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "SnapshotCheck")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		if err := a.ValidateArchives(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("All archives reachable.")
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local catalog with the archived snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		archiveName, _ := cmd.Flags().GetString("archive")
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := readConfig()
		if err != nil {
			return err
		}

		opts := app.RestoreOptions{Archive: archiveName, Force: force}
		if cfg.Encryption.Type != "none" {
			opts.Passphrase, err = readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
		}

		version, err := app.RestoreSnapshot(cmd.Context(), cfg, opts)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored catalog version %d to %s\n", version, app.CatalogFile(cfg))
		return nil
	},
}
