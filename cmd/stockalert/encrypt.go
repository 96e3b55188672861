package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/good-yellow-bee/stockalert/internal/security"
)

var encryptConfigCmd = &cobra.Command{
	Use:   "encrypt-config <file>",
	Short: "Encrypt a config file holding notification credentials",
	Long: `Encrypt a YAML config file into <file>.enc. The passphrase is read from
STOCKALERT_CONFIG_KEY or prompted for. Start the service with
--config <file>.enc and the same STOCKALERT_CONFIG_KEY.`,
	Args: cobra.ExactArgs(1),
	RunE: runEncryptConfig,
}

var removePlain bool

func init() {
	encryptConfigCmd.Flags().BoolVar(&removePlain, "remove", false, "delete the plaintext file after encrypting")
	rootCmd.AddCommand(encryptConfigCmd)
}

func runEncryptConfig(cmd *cobra.Command, args []string) error {
	src := args[0]
	if security.IsEncryptedFile(src) {
		return fmt.Errorf("%s is already encrypted", src)
	}

	plaintext, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// Refuse to encrypt something that would not load afterwards.
	if _, err := parseConfig(plaintext); err != nil {
		return err
	}

	passphrase := os.Getenv(envConfigKey)
	if passphrase == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Passphrase: ")
		if passphrase, err = promptPassphrase(cmd.InOrStdin()); err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}

	dst, err := security.WriteFile(src, plaintext, []byte(passphrase))
	if err != nil {
		return fmt.Errorf("encrypt config: %w", err)
	}
	if removePlain {
		if err := os.Remove(src); err != nil {
			return fmt.Errorf("remove plaintext: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Encrypted config written to %s\n", dst)
	return nil
}

// promptPassphrase reads without echo from a terminal, otherwise one line from in.
func promptPassphrase(in io.Reader) (string, error) {
	fd := syscall.Stdin
	if in == os.Stdin && term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
