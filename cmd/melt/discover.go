package melt

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <extractor>",
	Short: "Print an extractor's stream catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	m, err := loadManifest()
	if err != nil {
		return err
	}
	decl := m.Extractor(args[0])
	if decl == nil {
		return fmt.Errorf("extractor %q not declared in manifest", args[0])
	}

	registry := newRegistry()
	extractor, err := registry.ResolveExtractor(decl)
	if err != nil {
		return err
	}
	defer extractor.Disconnect()

	native, err := decl.NativeConfig()
	if err != nil {
		return err
	}
	if err := extractor.Connect(native); err != nil {
		return err
	}

	catalog, err := extractor.Discover(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(catalog)
}
