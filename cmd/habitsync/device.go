package main

import (
	"fmt"
	"time"

	"habitsync/internal/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newDeviceCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Show this device's sync identity",
		Long: `Show the identity this installation stamps on every snapshot it
uploads. The ID is generated once and kept in the local database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Shutdown()

			id := a.Device().Identity(cmd.Context())
			simulated := a.Device().IsSimulatedEnvironment()

			if asJSON {
				return utils.Encode(cmd.OutOrStdout(), utils.FormatJSON, struct {
					ID          string    `json:"id"`
					Name        string    `json:"name"`
					CreatedAt   time.Time `json:"created_at"`
					Ephemeral   bool      `json:"ephemeral"`
					SyncAllowed bool      `json:"sync_allowed"`
				}{id.ID, id.Name, id.CreatedAt, id.Ephemeral, !simulated})
			}

			fmt.Printf("ID:      %s\n", id.ID)
			fmt.Printf("Name:    %s\n", id.Name)
			if !id.CreatedAt.IsZero() {
				fmt.Printf("Created: %s\n", humanize.Time(id.CreatedAt))
			}
			if id.Ephemeral {
				fmt.Println("⚠ Identity could not be stored; sync is refused until the database is writable")
			}
			if simulated {
				fmt.Println("⚠ Simulated environment: sync is disabled")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
