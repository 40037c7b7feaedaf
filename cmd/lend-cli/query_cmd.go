package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"time"

	"lendcore/sdk/lending"
)

// maxHealthFactor is the sentinel a debt-free account reports.
var maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func runQueryCommand(name string, args []string, stdout, stderr io.Writer) int {
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	ctx := context.Background()
	switch name {
	case "reserve":
		if len(args) != 1 {
			return printArgError(stderr, "usage: lend-cli reserve <asset>")
		}
		reserve, err := client.GetReserve(ctx, args[0])
		if err != nil {
			return handleClientError(stderr, err)
		}
		printReserve(stdout, reserve)
		return 0
	case "reserves":
		if len(args) != 0 {
			return printArgError(stderr, "usage: lend-cli reserves")
		}
		reserves, err := client.GetReserves(ctx)
		if err != nil {
			return handleClientError(stderr, err)
		}
		if len(reserves) == 0 {
			fmt.Fprintln(stdout, "No reserves registered.")
			return 0
		}
		for i := range reserves {
			if i > 0 {
				fmt.Fprintln(stdout)
			}
			printReserve(stdout, &reserves[i])
		}
		return 0
	case "position":
		if len(args) != 2 {
			return printArgError(stderr, "usage: lend-cli position <address> <asset>")
		}
		position, err := client.GetPosition(ctx, args[0], args[1])
		if err != nil {
			return handleClientError(stderr, err)
		}
		printPosition(stdout, position)
		return 0
	case "account":
		if len(args) != 1 {
			return printArgError(stderr, "usage: lend-cli account <address>")
		}
		data, err := client.GetUserAccountData(ctx, args[0])
		if err != nil {
			return handleClientError(stderr, err)
		}
		printAccountData(stdout, args[0], data)
		return 0
	case "health":
		if len(args) != 1 {
			return printArgError(stderr, "usage: lend-cli health <address>")
		}
		hf, err := client.GetHealthFactor(ctx, args[0])
		if err != nil {
			return handleClientError(stderr, err)
		}
		fmt.Fprintf(stdout, "Health factor for %s: %s\n", args[0], formatHealthFactor(hf))
		return 0
	case "price":
		if len(args) != 1 {
			return printArgError(stderr, "usage: lend-cli price <asset>")
		}
		price, err := client.GetPrice(ctx, args[0])
		if err != nil {
			return handleClientError(stderr, err)
		}
		fmt.Fprintf(stdout, "Price for %s: %s\n", args[0], price)
		return 0
	case "rate-model":
		if len(args) != 0 {
			return printArgError(stderr, "usage: lend-cli rate-model")
		}
		model, err := client.GetRateModel(ctx)
		if err != nil {
			return handleClientError(stderr, err)
		}
		printRateModel(stdout, model)
		return 0
	case "balance":
		if len(args) != 2 {
			return printArgError(stderr, "usage: lend-cli balance <address> <symbol>")
		}
		balance, err := client.Balance(ctx, args[0], args[1])
		if err != nil {
			return handleClientError(stderr, err)
		}
		fmt.Fprintf(stdout, "Balance for %s\n", args[0])
		fmt.Fprintf(stdout, "  %s: %s\n", args[1], balance)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown query: %s\n", name)
		return 1
	}
}

func printReserve(w io.Writer, reserve *lending.Reserve) {
	if reserve == nil {
		return
	}
	fmt.Fprintf(w, "Reserve %s\n", reserve.Asset)
	fmt.Fprintf(w, "  Receipt token:         %s\n", reserve.ReceiptToken)
	fmt.Fprintf(w, "  Total liquidity:       %s\n", reserve.TotalLiquidity)
	fmt.Fprintf(w, "  Total borrowed:        %s\n", reserve.TotalBorrowed)
	fmt.Fprintf(w, "  Liquidity index:       %s\n", reserve.LiquidityIndex)
	fmt.Fprintf(w, "  Borrow index:          %s\n", reserve.BorrowIndex)
	fmt.Fprintf(w, "  LTV:                   %s\n", reserve.LTV)
	fmt.Fprintf(w, "  Liquidation threshold: %s\n", reserve.LiquidationThreshold)
	fmt.Fprintf(w, "  Liquidation bonus:     %s\n", reserve.LiquidationBonus)
	fmt.Fprintf(w, "  Close factor:          %s\n", reserve.CloseFactor)
	fmt.Fprintf(w, "  Active:                %t\n", reserve.Active)
	fmt.Fprintf(w, "  Last accrual:          %s\n", formatTimestamp(reserve.LastAccrual))
}

func printPosition(w io.Writer, position *lending.Position) {
	if position == nil {
		return
	}
	fmt.Fprintf(w, "Position for %s in %s\n", position.Address, position.Asset)
	fmt.Fprintf(w, "  Collateral:         %s\n", position.Collateral)
	fmt.Fprintf(w, "  Scaled debt:        %s\n", position.ScaledDebt)
	fmt.Fprintf(w, "  Collateral enabled: %t\n", position.CollateralEnabled)
	fmt.Fprintf(w, "  Open:               %t\n", position.Open)
}

func printAccountData(w io.Writer, address string, data *lending.AccountData) {
	if data == nil {
		return
	}
	fmt.Fprintf(w, "Account data for %s\n", address)
	fmt.Fprintf(w, "  Collateral value:      %s\n", data.TotalCollateralValue)
	fmt.Fprintf(w, "  Debt value:            %s\n", data.TotalDebtValue)
	fmt.Fprintf(w, "  Borrow capacity:       %s\n", data.AvailableBorrowCapacity)
	fmt.Fprintf(w, "  Weighted threshold:    %s\n", data.WeightedLiquidationThreshold)
	fmt.Fprintf(w, "  Current LTV:           %s\n", data.CurrentLTV)
	fmt.Fprintf(w, "  Health factor:         %s\n", formatHealthFactor(data.HealthFactor))
}

func printRateModel(w io.Writer, model *lending.RateModel) {
	if model == nil {
		return
	}
	fmt.Fprintln(w, "Interest rate model")
	fmt.Fprintf(w, "  Base rate: %s\n", model.BaseRate)
	fmt.Fprintf(w, "  Slope 1:   %s\n", model.Slope1)
	fmt.Fprintf(w, "  Slope 2:   %s\n", model.Slope2)
	fmt.Fprintf(w, "  Kink:      %s\n", model.Kink)
}

// formatHealthFactor replaces the debt-free sentinel with a readable
// label; any other value passes through as its WAD decimal string.
func formatHealthFactor(value string) string {
	parsed, ok := new(big.Int).SetString(value, 10)
	if ok && parsed.Cmp(maxHealthFactor) == 0 {
		return "unbounded (no outstanding debt)"
	}
	return value
}

func formatTimestamp(ts uint64) string {
	if ts == 0 {
		return "never"
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}
