package main

import (
	"context"
	"flag"
	"fmt"
	"io"
)

// parseAmountOpFlags handles the shared from/asset/amount flag shape used
// by deposit, withdraw, and repay. The account flag name varies so error
// messages match the command's vocabulary.
func parseAmountOpFlags(name, accountFlag string, args []string, stderr io.Writer) (account, asset, amount string, ok bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&account, accountFlag, "", "bech32 address")
	fs.StringVar(&asset, "asset", "", "asset symbol")
	fs.StringVar(&amount, "amount", "", "amount in base units (supports 100e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return "", "", "", false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return "", "", "", false
	}
	if account == "" {
		printArgError(stderr, fmt.Sprintf("--%s is required", accountFlag))
		return "", "", "", false
	}
	if asset == "" {
		printArgError(stderr, "--asset is required")
		return "", "", "", false
	}
	if amount == "" {
		printArgError(stderr, "--amount is required")
		return "", "", "", false
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		printArgError(stderr, err.Error())
		return "", "", "", false
	}
	return account, asset, normalized, true
}

func runDepositCommand(args []string, stdout, stderr io.Writer) int {
	from, asset, amount, ok := parseAmountOpFlags("deposit", "from", args, stderr)
	if !ok {
		return 1
	}
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	minted, err := client.Deposit(context.Background(), from, asset, amount)
	if err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintf(stdout, "Deposited %s %s. Minted %s receipt tokens.\n", amount, asset, minted)
	return 0
}

func runWithdrawCommand(args []string, stdout, stderr io.Writer) int {
	from, asset, amount, ok := parseAmountOpFlags("withdraw", "from", args, stderr)
	if !ok {
		return 1
	}
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	burned, err := client.Withdraw(context.Background(), from, asset, amount)
	if err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintf(stdout, "Withdrew %s %s. Burned %s receipt tokens.\n", amount, asset, burned)
	return 0
}

func runBorrowCommand(args []string, stdout, stderr io.Writer) int {
	borrower, asset, amount, ok := parseAmountOpFlags("borrow", "borrower", args, stderr)
	if !ok {
		return 1
	}
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	if err := client.Borrow(context.Background(), borrower, asset, amount); err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintf(stdout, "Borrowed %s %s.\n", amount, asset)
	return 0
}

func runRepayCommand(args []string, stdout, stderr io.Writer) int {
	from, asset, amount, ok := parseAmountOpFlags("repay", "from", args, stderr)
	if !ok {
		return 1
	}
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	repaid, err := client.Repay(context.Background(), from, asset, amount)
	if err != nil {
		return handleClientError(stderr, err)
	}
	if repaid != amount {
		fmt.Fprintf(stdout, "Repaid %s %s (requested %s, capped at outstanding debt).\n", repaid, asset, amount)
	} else {
		fmt.Fprintf(stdout, "Repaid %s %s.\n", repaid, asset)
	}
	return 0
}

func runLiquidateCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("liquidate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		liquidator      string
		borrower        string
		debtAsset       string
		collateralAsset string
		amount          string
	)
	fs.StringVar(&liquidator, "liquidator", "", "liquidator bech32 address")
	fs.StringVar(&borrower, "borrower", "", "borrower bech32 address")
	fs.StringVar(&debtAsset, "debt-asset", "", "asset whose debt is repaid")
	fs.StringVar(&collateralAsset, "collateral-asset", "", "asset seized as collateral")
	fs.StringVar(&amount, "amount", "", "debt to repay in base units (capped by the close factor)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if liquidator == "" {
		return printArgError(stderr, "--liquidator is required")
	}
	if borrower == "" {
		return printArgError(stderr, "--borrower is required")
	}
	if debtAsset == "" {
		return printArgError(stderr, "--debt-asset is required")
	}
	if collateralAsset == "" {
		return printArgError(stderr, "--collateral-asset is required")
	}
	if amount == "" {
		return printArgError(stderr, "--amount is required")
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		return printArgError(stderr, err.Error())
	}
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	repaid, seized, err := client.Liquidate(context.Background(), liquidator, borrower, debtAsset, collateralAsset, normalized)
	if err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintf(stdout, "Repaid %s %s of %s's debt. Seized %s %s.\n", repaid, debtAsset, borrower, seized, collateralAsset)
	return 0
}
