package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"cosmossdk.io/math"
	"github.com/fatih/color"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/escrow"
	"swap-escrow/internal/storage/memory"
)

// tokenDecimals is the base-unit scale of the demo tokens.
const tokenDecimals = 18

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an in-memory Alice/Bob swap and print balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(context.Background(), cmd.OutOrStdout())
	},
}

type demoParty struct {
	name string
	id   domain.Identity
}

// demoIdentity derives a stable wallet identity from name.
func demoIdentity(name string) domain.Identity {
	seed := sha256.Sum256([]byte("escrowd-demo:" + name))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return domain.IdentityFromPublicKey(priv.Public().(ed25519.PublicKey))
}

// demoAsset derives a stable mint address from symbol.
func demoAsset(symbol string) domain.AssetID {
	sum := sha256.Sum256([]byte("escrowd-demo-mint:" + symbol))
	return domain.AssetID(base58.Encode(sum[:]))
}

func tokens(n int64) math.Int {
	return math.NewIntWithDecimal(n, tokenDecimals)
}

func formatTokens(amount math.Int) string {
	return math.LegacyNewDecFromIntWithPrec(amount, tokenDecimals).String()
}

func runDemo(ctx context.Context, out io.Writer) error {
	title := color.New(color.Bold, color.FgCyan).SprintFunc()
	step := color.New(color.FgYellow).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()

	alice := demoParty{"Alice", demoIdentity("alice")}
	bob := demoParty{"Bob", demoIdentity("bob")}
	tka, tkb := demoAsset("TKA"), demoAsset("TKB")
	symbols := map[domain.AssetID]string{tka: "TKA", tkb: "TKB"}

	l := memory.NewLedger()
	events := memory.NewSwapEventStore()
	registry := escrow.NewRegistry(l, memory.NewSwapStore(events))

	fmt.Fprintln(out, title("Basket swap escrow demo"))
	fmt.Fprintf(out, "%s %s\n%s %s\n\n", alice.name+":", alice.id, bob.name+":", bob.id)

	fmt.Fprintln(out, step("Distributing tokens..."))
	if err := l.Credit(ctx, alice.id, tka, tokens(1000)); err != nil {
		return err
	}
	if err := l.Credit(ctx, bob.id, tkb, tokens(1000)); err != nil {
		return err
	}

	printBalances := func() error {
		for _, p := range []demoParty{alice, bob} {
			for _, asset := range []domain.AssetID{tka, tkb} {
				b, err := l.Balance(ctx, p.id, asset)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %-5s %s: free %s held %s\n", p.name, symbols[asset], formatTokens(b.Free), formatTokens(b.Held))
			}
		}
		fmt.Fprintln(out)
		return nil
	}
	if err := printBalances(); err != nil {
		return err
	}

	fmt.Fprintln(out, step("Alice approves 100 TKA and creates a swap for 50 TKB..."))
	if err := l.Approve(ctx, alice.id, tka, tokens(100)); err != nil {
		return err
	}
	id, err := registry.Create(ctx, alice.id, escrow.CreateRequest{
		Counterparty: bob.id,
		Inputs:       domain.Basket{{Asset: tka, Amount: tokens(100)}},
		Outputs:      domain.Basket{{Asset: tkb, Amount: tokens(50)}},
		Deadline:     time.Now().Add(time.Hour),
	})
	if err != nil {
		return fmt.Errorf("create swap: %w", err)
	}
	view, err := registry.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  swap %s\n  status %s, deadline %s\n\n", id, view.DisplayStatus, view.Deadline.Format(time.RFC3339))
	if err := printBalances(); err != nil {
		return err
	}

	fmt.Fprintln(out, step("Bob approves 50 TKB and executes the swap..."))
	if err := l.Approve(ctx, bob.id, tkb, tokens(50)); err != nil {
		return err
	}
	view, err = registry.Execute(ctx, bob.id, id)
	if err != nil {
		return fmt.Errorf("execute swap: %w", err)
	}
	fmt.Fprintf(out, "  status %s\n\n", view.Status)

	fmt.Fprintln(out, step("Final balances:"))
	if err := printBalances(); err != nil {
		return err
	}

	evs, err := events.GetBySwapID(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, step("Events:"))
	for _, e := range evs {
		fmt.Fprintf(out, "  #%d %s %s\n", e.ID, e.Kind, e.Timestamp.Format(time.RFC3339))
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, ok("Demo completed successfully"))
	return nil
}
