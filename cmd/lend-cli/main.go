package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"lendcore/sdk/lending"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via LEND_RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("LEND_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	rpcAuthToken = os.Getenv("LEND_RPC_TOKEN")
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	rest := args[1:]
	var code int
	switch command {
	case "key":
		code = runKeyCommand(rest, os.Stdout, os.Stderr)
	case "market":
		code = runMarketCommand(rest, os.Stdout, os.Stderr)
	case "deposit":
		code = runDepositCommand(rest, os.Stdout, os.Stderr)
	case "withdraw":
		code = runWithdrawCommand(rest, os.Stdout, os.Stderr)
	case "borrow":
		code = runBorrowCommand(rest, os.Stdout, os.Stderr)
	case "repay":
		code = runRepayCommand(rest, os.Stdout, os.Stderr)
	case "liquidate":
		code = runLiquidateCommand(rest, os.Stdout, os.Stderr)
	case "reserve", "reserves", "position", "account", "health", "price", "rate-model", "balance":
		code = runQueryCommand(command, rest, os.Stdout, os.Stderr)
	case "watch":
		code = runWatchCommand(rest, os.Stdout, os.Stderr)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		code = 1
	}
	if code != 0 {
		os.Exit(code)
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("LEND_RPC_URL")); v != "" {
		return v
	}
	return "http://127.0.0.1:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --token")
			}
			rpcAuthToken = args[i+1]
			i++
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimPrefix(arg, "--token=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

// dialNode builds a lending client against the configured endpoint. The
// bearer token is attached only when present so read-only queries work
// against nodes that do not require one.
func dialNode() (*lending.Client, error) {
	opts := make([]lending.Option, 0, 1)
	if strings.TrimSpace(rpcAuthToken) != "" {
		opts = append(opts, lending.WithAuthToken(rpcAuthToken))
	}
	return lending.New(rpcEndpoint, opts...)
}

func printArgError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleClientError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var rpcErr *lending.RPCError
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(w, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return 1
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

// normalizeAmount turns operator-friendly notation such as 100e18 or
// 0.75e18 into the plain integer string the node expects. The result must
// come out as a whole number of base units.
func normalizeAmount(flagName, value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expPart := strings.TrimSpace(trimmed[idx+1:])
		if expPart == "" {
			return "", fmt.Errorf("invalid scientific notation in %s", flagName)
		}
		expValue, err := strconv.ParseInt(expPart, 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in %s", flagName)
		}
		exponent = int(expValue)
	}
	base = strings.TrimSpace(strings.TrimPrefix(base, "+"))
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("%s must be positive", flagName)
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid format for %s", flagName)
	}
	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	digits := integerPart + fractionalPart
	if digits == "" || !isDigits(digits) {
		return "", fmt.Errorf("invalid format for %s", flagName)
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fractionalPart)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	totalExponent := exponent - fracLen
	if totalExponent < 0 {
		return "", fmt.Errorf("%s must be a whole number of base units", flagName)
	}
	if digits == "" {
		return "", fmt.Errorf("%s must be positive", flagName)
	}
	if totalExponent > 0 {
		digits += strings.Repeat("0", totalExponent)
	}
	return digits, nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func printUsage() {
	fmt.Println("Usage: lend-cli [--rpc <url>] [--token <bearer>] <command> [arguments]")
	fmt.Println()
	fmt.Println("The endpoint defaults to http://127.0.0.1:8545 and can be set via LEND_RPC_URL.")
	fmt.Println("Privileged commands send the bearer token from LEND_RPC_TOKEN or --token.")
	fmt.Println("Amounts accept scientific shorthand: 100e18 means 100 whole tokens.")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  key                                 - Keystore management subcommands")
	fmt.Println("  market                              - Reserve and oracle administration subcommands")
	fmt.Println("  deposit --from --asset --amount     - Supply collateral to a reserve")
	fmt.Println("  withdraw --from --asset --amount    - Withdraw collateral from a reserve")
	fmt.Println("  borrow --borrower --asset --amount  - Borrow against posted collateral")
	fmt.Println("  repay --from --asset --amount       - Repay outstanding debt")
	fmt.Println("  liquidate                           - Liquidate an undercollateralised borrower")
	fmt.Println("  reserve <asset>                     - Show one reserve's state")
	fmt.Println("  reserves                            - List all reserves")
	fmt.Println("  position <address> <asset>          - Show a user's position in a reserve")
	fmt.Println("  account <address>                   - Show aggregated account risk data")
	fmt.Println("  health <address>                    - Show a user's health factor")
	fmt.Println("  price <asset>                       - Show the oracle quote for an asset")
	fmt.Println("  rate-model                          - Show the interest rate model")
	fmt.Println("  balance <address> <symbol>          - Show a token balance")
	fmt.Println("  watch [--cursor <seq>] [--json]     - Stream ledger events from the node")
}
