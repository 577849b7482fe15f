package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/petems/miclock/internal/audio"
	"github.com/petems/miclock/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available input devices",
	Long:  `Lists input-capable audio devices, marking the system default and the device miclock enforces.`,
	RunE:  runDevices,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("miclock %s (%s)\n", Version, Commit)
	},
}

func init() {
	devicesCmd.Flags().BoolVarP(&devicesJSON, "json", "j", false, "output as JSON")
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

type deviceInfo struct {
	audio.AudioDevice
	IsDefault  bool `json:"is_default"`
	IsSelected bool `json:"is_selected"`
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)

	bridge, err := audio.New(cfg, log)
	if err != nil {
		return err
	}
	defer bridge.Close()

	devices, err := audio.NewCatalog(bridge, log).Refresh(ctx)
	if err != nil {
		return err
	}

	selected, _, err := store.NewSelection(store.NewFileBackend(cfg.SelectionPath())).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	def, err := bridge.DefaultInput(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	infos := make([]deviceInfo, 0, len(devices))
	for _, d := range devices {
		info := deviceInfo{AudioDevice: d, IsSelected: d.ID == selected}
		if def != "" {
			if h, err := bridge.Lookup(ctx, d.ID); err == nil && h == def {
				info.IsDefault = true
			}
		}
		infos = append(infos, info)
	}

	if devicesJSON {
		return json.NewEncoder(os.Stdout).Encode(infos)
	}

	if len(infos) == 0 {
		fmt.Println("No microphones found")
		return nil
	}

	fmt.Println("Available input devices:")
	fmt.Println()
	for i, d := range infos {
		marker := ""
		if d.IsDefault {
			marker += " (default)"
		}
		if d.IsSelected {
			marker += " (enforced)"
		}
		fmt.Printf("  %d: %s [%dch]%s\n", i, d.Name, d.InputChannels, marker)
		fmt.Printf("      ID: %s\n", d.ID)
	}
	return nil
}
