package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"lendcore/sdk/lending"
)

func runMarketCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, marketUsage())
		return 1
	}
	switch args[0] {
	case "init-reserve":
		return runMarketInitReserve(args[1:], stdout, stderr)
	case "set-oracle":
		return runMarketSetOracle(args[1:], stdout, stderr)
	case "set-rate-model":
		return runMarketSetRateModel(args[1:], stdout, stderr)
	case "set-price":
		return runMarketSetPrice(args[1:], stdout, stderr)
	case "grant-role":
		return runMarketGrantRole(args[1:], stdout, stderr)
	case "mint":
		return runMarketMint(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown market subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, marketUsage())
		return 1
	}
}

func runMarketInitReserve(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("market init-reserve", stderr)
	var (
		caller       string
		asset        string
		receiptToken string
		ltv          string
		threshold    string
		bonus        string
		closeFactor  string
	)
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.StringVar(&asset, "asset", "", "asset symbol")
	fs.StringVar(&receiptToken, "receipt-token", "", "receipt token symbol")
	fs.StringVar(&ltv, "ltv", "", "loan-to-value ratio as a WAD (0.7e18)")
	fs.StringVar(&threshold, "liquidation-threshold", "", "liquidation threshold as a WAD")
	fs.StringVar(&bonus, "liquidation-bonus", "0", "liquidation bonus as a WAD (0.05e18)")
	fs.StringVar(&closeFactor, "close-factor", "", "close factor as a WAD (0.5e18)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if caller == "" {
		return printArgError(stderr, "--caller is required")
	}
	if asset == "" {
		return printArgError(stderr, "--asset is required")
	}
	if receiptToken == "" {
		return printArgError(stderr, "--receipt-token is required")
	}
	cfg := lending.ReserveConfig{Asset: asset, ReceiptToken: receiptToken}
	for _, field := range []struct {
		flag string
		raw  string
		dst  *string
	}{
		{"--ltv", ltv, &cfg.LTV},
		{"--liquidation-threshold", threshold, &cfg.LiquidationThreshold},
		{"--liquidation-bonus", bonus, &cfg.LiquidationBonus},
		{"--close-factor", closeFactor, &cfg.CloseFactor},
	} {
		if field.raw == "" {
			return printArgError(stderr, fmt.Sprintf("%s is required", field.flag))
		}
		if field.raw == "0" {
			*field.dst = "0"
			continue
		}
		normalized, err := normalizeAmount(field.flag, field.raw)
		if err != nil {
			return printArgError(stderr, err.Error())
		}
		*field.dst = normalized
	}

	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	reserve, err := client.InitReserve(context.Background(), caller, cfg)
	if err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintf(stdout, "Reserve %s initialised.\n", reserve.Asset)
	printReserve(stdout, reserve)
	return 0
}

func runMarketSetOracle(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("market set-oracle", stderr)
	var (
		caller string
		feeder string
	)
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.StringVar(&feeder, "feeder", "", "price feeder bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if caller == "" {
		return printArgError(stderr, "--caller is required")
	}
	if feeder == "" {
		return printArgError(stderr, "--feeder is required")
	}
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	if err := client.SetOracle(context.Background(), caller, feeder); err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintf(stdout, "Oracle feeder set to %s.\n", feeder)
	return 0
}

func runMarketSetRateModel(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("market set-rate-model", stderr)
	var (
		caller   string
		baseRate string
		slope1   string
		slope2   string
		kink     string
	)
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.StringVar(&baseRate, "base-rate", "0", "base annual rate as a WAD (0.02e18)")
	fs.StringVar(&slope1, "slope1", "0", "slope below the kink as a WAD")
	fs.StringVar(&slope2, "slope2", "0", "slope above the kink as a WAD")
	fs.StringVar(&kink, "kink", "0", "utilisation kink as a WAD (0.8e18)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if caller == "" {
		return printArgError(stderr, "--caller is required")
	}
	model := lending.RateModel{}
	for _, field := range []struct {
		flag string
		raw  string
		dst  *string
	}{
		{"--base-rate", baseRate, &model.BaseRate},
		{"--slope1", slope1, &model.Slope1},
		{"--slope2", slope2, &model.Slope2},
		{"--kink", kink, &model.Kink},
	} {
		if field.raw == "0" || field.raw == "" {
			*field.dst = "0"
			continue
		}
		normalized, err := normalizeAmount(field.flag, field.raw)
		if err != nil {
			return printArgError(stderr, err.Error())
		}
		*field.dst = normalized
	}
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	applied, err := client.SetRateModel(context.Background(), caller, model)
	if err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintln(stdout, "Rate model updated.")
	printRateModel(stdout, applied)
	return 0
}

func runMarketSetPrice(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("market set-price", stderr)
	var (
		caller string
		asset  string
		price  string
	)
	fs.StringVar(&caller, "caller", "", "feeder bech32 address")
	fs.StringVar(&asset, "asset", "", "asset symbol")
	fs.StringVar(&price, "price", "", "price in WAD quote units (2000e18)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if caller == "" {
		return printArgError(stderr, "--caller is required")
	}
	if asset == "" {
		return printArgError(stderr, "--asset is required")
	}
	if price == "" {
		return printArgError(stderr, "--price is required")
	}
	normalized, err := normalizeAmount("--price", price)
	if err != nil {
		return printArgError(stderr, err.Error())
	}
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	if err := client.SetPrice(context.Background(), caller, asset, normalized); err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintf(stdout, "Price for %s set to %s.\n", asset, normalized)
	return 0
}

func runMarketGrantRole(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("market grant-role", stderr)
	var (
		caller  string
		role    string
		address string
	)
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.StringVar(&role, "role", "", "role name (ROLE_LEND_ADMIN)")
	fs.StringVar(&address, "address", "", "grantee bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if caller == "" {
		return printArgError(stderr, "--caller is required")
	}
	if role == "" {
		return printArgError(stderr, "--role is required")
	}
	if address == "" {
		return printArgError(stderr, "--address is required")
	}
	client, err := dialNode()
	if err != nil {
		return handleClientError(stderr, err)
	}
	if err := client.GrantRole(context.Background(), caller, role, address); err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintf(stdout, "Granted %s to %s.\n", role, address)
	return 0
}

func runMarketMint(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("market mint", stderr)
	var (
		caller string
		to     string
		symbol string
		amount string
	)
	fs.StringVar(&caller, "caller", "", "mint authority bech32 address")
	fs.StringVar(&to, "to", "", "recipient bech32 address")
	fs.StringVar(&symbol, "symbol", "", "token symbol")
	fs.StringVar(&amount, "amount", "", "amount in base units (supports 100e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if caller == "" {
		return printArgError(stderr, "--caller is required")
	}
	if to == "" {
		return printArgError(stderr, "--to is required")
	}
	if symbol == "" {
		return printArgError(stderr, "--symbol is required")
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
	if err := client.Mint(context.Background(), caller, to, symbol, normalized); err != nil {
		return handleClientError(stderr, err)
	}
	fmt.Fprintf(stdout, "Minted %s %s to %s.\n", normalized, symbol, to)
	return 0
}

func newMarketFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, marketUsage())
	}
	return fs
}

func marketUsage() string {
	return strings.TrimSpace(`Usage:
  lend-cli market <command> [flags]

Commands:
  init-reserve    Register a reserve with its risk parameters
  set-oracle      Designate the address allowed to post prices
  set-rate-model  Install the interest rate model
  set-price       Post an oracle quote (feeder only)
  grant-role      Grant a role to an address
  mint            Mint tokens to an address (authority only)

All commands call privileged RPC methods and need LEND_RPC_TOKEN or --token.
`)
}
