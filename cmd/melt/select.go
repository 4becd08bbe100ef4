package melt

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/meltworks/melt/pkg/selection"
)

var selectCmd = &cobra.Command{
	Use:   "select <extractor>",
	Short: "Show the effective stream selection for an extractor",
	Long: `Show which discovered streams and fields the extractor's select
rules keep. Excluded entries are marked with [excluded].`,
	Args: cobra.ExactArgs(1),
	RunE: runSelect,
}

func runSelect(cmd *cobra.Command, args []string) error {
	m, err := loadManifest()
	if err != nil {
		return err
	}
	decl := m.Extractor(args[0])
	if decl == nil {
		return fmt.Errorf("extractor %q not declared in manifest", args[0])
	}

	rules, err := decl.SelectionRules()
	if err != nil {
		return err
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
	selected := selection.Apply(rules, catalog)

	for _, stream := range catalog.Streams {
		if !selected.IsStreamSelected(stream.Name) {
			fmt.Printf("%s [excluded]\n", stream.Name)
			continue
		}
		fmt.Println(stream.Name)

		fields := stream.Fields()
		sort.Strings(fields)
		for _, field := range fields {
			if selected.IsFieldSelected(stream.Name, field) {
				fmt.Printf("  %s.%s\n", stream.Name, field)
			} else {
				fmt.Printf("  %s.%s [excluded]\n", stream.Name, field)
			}
		}
	}
	return nil
}
