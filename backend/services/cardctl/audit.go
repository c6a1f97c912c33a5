package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rfidpay/cardcore/backend/pkg/fabricclient"
	"github.com/rfidpay/cardcore/backend/pkg/platform"
)

var errFabricDisabled = errors.New("fabric anchoring is disabled (set fabric.enabled)")

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <reference>",
		Short: "Read anchored transactions back from the card-audit chaincode",
		Long: `Read anchored transactions back from the card-audit chaincode.

With a reference, prints that record. With --card, lists every record
anchored for the card.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cardID, _ := cmd.Flags().GetString("card")
			if (len(args) == 0) == (cardID == "") {
				return errors.New("give either a reference or --card")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Fabric.Enabled {
				return errFabricDisabled
			}
			cliLogger(cmd, cfg)

			client, err := fabricclient.NewClient(platform.FabricOptions(cfg.Fabric))
			if err != nil {
				return err
			}
			defer client.Close()

			var result []byte
			if cardID != "" {
				result, err = client.EvaluateTransaction("ListByCard", cardID)
			} else {
				result, err = client.EvaluateTransaction("GetTransaction", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to query chaincode: %w", err)
			}

			var out bytes.Buffer
			if err := json.Indent(&out, result, "", "  "); err != nil {
				out.Reset()
				out.Write(result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}
	cmd.Flags().String("card", "", "list records anchored for this card id")
	return cmd
}
