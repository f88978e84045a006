// Command keytool manages the encrypted key files referenced by
// wallets.encrypted_key_path and checks keeper configuration files.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/keeperbot/internal/config"
	"github.com/alanyoungcy/keeperbot/internal/crypto"
)

const (
	envKey      = "KEEPER_KEY"
	envPassword = "KEEPER_KEY_PASSWORD"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "keytool",
		Short:        "Encrypted key file and configuration helper for keeperbot",
		SilenceUsage: true,
	}
	root.AddCommand(encryptCmd(), addressCmd(), checkConfigCmd())
	return root
}

func encryptCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a private key into a key file",
		Long: "Reads the private key from $" + envKey + " (or the first stdin line) and the " +
			"password from $" + envPassword + " (or the next stdin line).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			key, err := secret(in, envKey)
			if err != nil {
				return fmt.Errorf("private key: %w", err)
			}
			password, err := secret(in, envPassword)
			if err != nil {
				return fmt.Errorf("password: %w", err)
			}
			addr, err := crypto.AddressOf(key)
			if err != nil {
				return err
			}
			data, err := crypto.EncryptKey(key, password, addr.Hex())
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for %s\n", out, addr.Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "key file to write (default stdout)")
	return cmd
}

func addressCmd() *cobra.Command {
	var keyFile string
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the address of a raw or encrypted private key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			src := crypto.KeySource{EncryptedKeyPath: keyFile}
			var err error
			if keyFile == "" {
				src.RawPrivateKey, err = secret(in, envKey)
			} else {
				src.KeyPassword, err = secret(in, envPassword)
			}
			if err != nil {
				return err
			}
			key, err := crypto.ResolveKey(src)
			if err != nil {
				return err
			}
			addr, err := crypto.AddressOf(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyFile, "key-file", "f", "", "encrypted key file (default: raw key)")
	return cmd
}

func checkConfigCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate a configuration file, printing it with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(config.RedactedConfig(cfg))
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "config.toml", "configuration file")
	return cmd
}

// secret reads env, falling back to the next line of in.
func secret(in *bufio.Reader, env string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v, nil
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty input (set $" + env + " or pipe it on stdin)")
	}
	return line, nil
}
