package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/common"
	"github.com/rfidpay/cardcore/backend/pkg/common/db"
	"github.com/rfidpay/cardcore/backend/pkg/fee"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
	"github.com/rfidpay/cardcore/backend/pkg/platform"
)

var errRefused = errors.New("transaction refused")

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cliLogger(cmd, cfg)
			conn, err := db.Connect(cmd.Context(), cfg.DB)
			if err != nil {
				return err
			}
			defer conn.Close()

			applied, err := platform.Migrate(conn)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func feeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fee <amount>",
		Short: "Show the fee charged on a debit of amount (minor units)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[0])
			}
			f := fee.Calculate(amount)
			fmt.Fprintf(cmd.OutOrStdout(), "amount=%d fee=%d total=%d\n", amount, f, amount+f)
			return nil
		},
	}
}

func cardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Issue and manage cards",
	}
	cmd.AddCommand(cardIssueCmd(), cardGetCmd(), cardActivateCmd(), cardBlockCmd(), cardUnblockCmd())
	return cmd
}

// parseOwner reads "person:<id>" or "enterprise:<id>".
func parseOwner(v string) (card.Owner, error) {
	if v == "" {
		return card.Unassigned(), nil
	}
	kind, id, ok := strings.Cut(v, ":")
	if !ok || id == "" {
		return card.Owner{}, fmt.Errorf("owner must look like person:<id> or enterprise:<id>, got %q", v)
	}
	switch strings.ToLower(kind) {
	case "person":
		return card.Person(id), nil
	case "enterprise":
		return card.Enterprise(id), nil
	}
	return card.Owner{}, fmt.Errorf("unknown owner kind %q", kind)
}

func cardIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new INACTIVE card",
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, _ := cmd.Flags().GetString("uid")
			serial, _ := cmd.Flags().GetString("serial")
			typ, _ := cmd.Flags().GetString("type")
			ownerFlag, _ := cmd.Flags().GetString("owner")
			owner, err := parseOwner(ownerFlag)
			if err != nil {
				return err
			}
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				c, err := p.Ledger.IssueCard(ctx, ledger.IssueRequest{
					CodeUID:     uid,
					NumeroSerie: serial,
					Type:        card.Type(strings.ToUpper(typ)),
					Owner:       owner,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, c)
			})
		},
	}
	cmd.Flags().String("uid", "", "RFID tag UID (required)")
	cmd.Flags().String("serial", "", "printed serial number (generated when empty)")
	cmd.Flags().StringP("type", "t", string(card.TypeStandard), "card type: STANDARD, PREMIUM or ENTREPRISE")
	cmd.Flags().String("owner", "", "owner as person:<id> or enterprise:<id>")
	_ = cmd.MarkFlagRequired("uid")
	return cmd
}

func cardGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <card-id>",
		Short: "Show a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				c, err := p.Ledger.GetCard(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, c)
			})
		},
	}
}

func cardActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <card-id>",
		Short: "Activate an INACTIVE card with an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				c, err := p.Ledger.ActivateCard(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, c)
			})
		},
	}
}

func cardBlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block <card-id>",
		Short: "Block an ACTIVE card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				c, err := p.Ledger.BlockCard(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return printJSON(cmd, c)
			})
		},
	}
	cmd.Flags().StringP("reason", "r", "", "why the card is blocked (required)")
	return cmd
}

func cardUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <card-id>",
		Short: "Return a BLOQUEE card to ACTIVE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				c, err := p.Ledger.UnblockCard(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, c)
			})
		},
	}
}

func authorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Submit one transaction to the ledger",
		Long: `Submit one transaction to the ledger and print the journaled record.

A refused transaction is still printed, and the command exits non-zero.

Examples:
  cardctl authorize --card 7f1c... --type RECHARGE --amount 50000
  cardctl authorize --card 7f1c... --type ACHAT --amount 1200 --merchant M001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cardID, _ := cmd.Flags().GetString("card")
			typ, _ := cmd.Flags().GetString("type")
			amount, _ := cmd.Flags().GetInt64("amount")
			merchant, _ := cmd.Flags().GetString("merchant")
			desc, _ := cmd.Flags().GetString("description")
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				tx, err := p.Ledger.Authorize(ctx, ledger.Request{
					CardID: cardID,
					Type:   ledger.TxType(strings.ToUpper(typ)),
					Amount: amount,
					Metadata: ledger.Metadata{
						MerchantID:  merchant,
						Description: desc,
					},
				})
				if err != nil {
					return err
				}
				if err := printJSON(cmd, tx); err != nil {
					return err
				}
				if tx.Status != ledger.StatusValidee {
					return fmt.Errorf("%w: %s (%s)", errRefused, tx.ErrorCode, tx.ErrorCode.Message())
				}
				return nil
			})
		},
	}
	cmd.Flags().String("card", "", "card id (required)")
	cmd.Flags().StringP("type", "t", string(ledger.TypeAchat), "ACHAT, RETRAIT, RECHARGE or TRANSFERT")
	cmd.Flags().Int64P("amount", "a", 0, "amount in minor units")
	cmd.Flags().StringP("merchant", "m", "", "merchant id")
	cmd.Flags().String("description", "", "free-form description")
	_ = cmd.MarkFlagRequired("card")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Daily transaction report with the change since the day before",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				day := time.Now().In(p.Location)
				if date != "" {
					d, err := time.ParseInLocation(time.DateOnly, date, p.Location)
					if err != nil {
						return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
					}
					day = d
				}
				report, err := p.Stats.Daily(ctx, day)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().StringP("date", "d", "", "day to report (YYYY-MM-DD, default today)")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token for the card service",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			cards, _ := cmd.Flags().GetStringSlice("card")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			role = strings.ToUpper(role)
			switch role {
			case common.RoleAdmin, common.RoleOperator, common.RoleClient:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			tok, err := common.IssueToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, user, role, cards, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringP("user", "u", "admin", "user id")
	cmd.Flags().StringP("role", "r", common.RoleAdmin, "ADMIN, OPERATOR or CLIENT")
	cmd.Flags().StringSlice("card", nil, "card ids a CLIENT may act on")
	cmd.Flags().Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}
