package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/mavnode/src/config"
	"github.com/mosaicnetworks/mavnode/src/sign"
	"github.com/spf13/cobra"
)

var (
	keyFile   string
	printOnly bool
)

// NewKeygenCmd produces a KeygenCmd which creates a signing key
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new signing key",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	defaultKeyFile := filepath.Join(_config.Node.DataDir, config.DefaultSigningKeyfile)
	cmd.Flags().StringVar(&keyFile, "out", defaultKeyFile, "File where the hex encoded key will be written")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the key instead of writing it")
}

func keygen(cmd *cobra.Command, args []string) error {
	key, err := sign.GenerateKey()
	if err != nil {
		return fmt.Errorf("Error generating signing key: %s", err)
	}
	encoded := sign.EncodeKey(key)

	if printOnly {
		fmt.Println(encoded)
		return nil
	}

	if _, err := os.Stat(keyFile); err == nil {
		return fmt.Errorf("A key already lives under: %s", keyFile)
	}

	if err := os.MkdirAll(filepath.Dir(keyFile), 0700); err != nil {
		return fmt.Errorf("Writing signing key: %s", err)
	}

	if err := os.WriteFile(keyFile, []byte(encoded+"\n"), 0600); err != nil {
		return fmt.Errorf("Writing signing key: %s", err)
	}

	fmt.Printf("Your signing key has been saved to: %s\n", keyFile)

	return nil
}
