// Package main provides tidepool-cli, a stateless rescue tool that builds
// claim and refund transactions for swap outputs without a running daemon.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/tidepool-exchange/tidepool/internal/swap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "claim":
		runClaim(os.Args[2:])
	case "refund":
		runRefund(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `tidepool-cli - offline swap claim and refund construction

Usage:
  tidepool-cli claim  -network <net> -key <hex> -script <hex> -tx <hex> -address <addr> -preimage <hex> [-fee <sat/vb>] [-asset <hash>] [-hrp <prefix>]
  tidepool-cli refund -network <net> -key <hex> -script <hex> -tx <hex> -address <addr> -timeout <height> [-fee <sat/vb>] [-asset <hash>] [-hrp <prefix>]

Passing -asset selects the confidential transaction format.
`)
}

// spendArgs are the flags shared by both commands.
type spendArgs struct {
	network   string
	keyHex    string
	scriptHex string
	txHex     string
	address   string
	fee       uint64
	assetHash string
	hrp       string
}

func registerSpendFlags(fs *flag.FlagSet, args *spendArgs) {
	fs.StringVar(&args.network, "network", "mainnet", "Network (mainnet, testnet, regtest)")
	fs.StringVar(&args.keyHex, "key", "", "Private key (hex)")
	fs.StringVar(&args.scriptHex, "script", "", "Redeem script (hex)")
	fs.StringVar(&args.txHex, "tx", "", "Raw funding transaction (hex)")
	fs.StringVar(&args.address, "address", "", "Destination address")
	fs.Uint64Var(&args.fee, "fee", 2, "Fee rate (sat/vbyte)")
	fs.StringVar(&args.assetHash, "asset", "", "Asset hash for confidential chains")
	fs.StringVar(&args.hrp, "hrp", "", "Bech32 prefix override for sidechains")
}

func runClaim(argv []string) {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	var args spendArgs
	var preimageHex string
	registerSpendFlags(fs, &args)
	fs.StringVar(&preimageHex, "preimage", "", "Payment preimage (hex)")
	fs.Parse(argv)

	key, script, destScript := resolveSpendArgs(&args)

	preimage, err := hex.DecodeString(preimageHex)
	if err != nil || len(preimage) == 0 {
		fail("invalidArgument", fmt.Errorf("preimage must be non-empty hex"))
	}

	var raw string
	if args.assetHash != "" {
		raw, err = swap.ClaimLiquid(args.txHex, script, preimage, key, destScript, args.fee, args.assetHash)
	} else {
		raw, err = swap.ClaimStandard(args.txHex, script, preimage, key, destScript, args.fee)
	}
	if err != nil {
		fail("constructionError", err)
	}

	printResult("claimTransaction", raw)
}

func runRefund(argv []string) {
	fs := flag.NewFlagSet("refund", flag.ExitOnError)
	var args spendArgs
	var timeout uint
	registerSpendFlags(fs, &args)
	fs.UintVar(&timeout, "timeout", 0, "Timeout block height")
	fs.Parse(argv)

	key, script, destScript := resolveSpendArgs(&args)

	if timeout == 0 {
		fail("invalidArgument", fmt.Errorf("timeout block height is required"))
	}

	var raw string
	var err error
	if args.assetHash != "" {
		raw, err = swap.RefundLiquid(args.txHex, script, key, destScript, args.fee, uint32(timeout), args.assetHash)
	} else {
		raw, err = swap.RefundStandard(args.txHex, script, key, destScript, args.fee, uint32(timeout))
	}
	if err != nil {
		fail("constructionError", err)
	}

	printResult("refundTransaction", raw)
}

// resolveSpendArgs validates the shared flags and resolves the key, redeem
// script and destination output script.
func resolveSpendArgs(args *spendArgs) (*btcec.PrivateKey, []byte, []byte) {
	keyBytes, err := hex.DecodeString(args.keyHex)
	if err != nil || len(keyBytes) != 32 {
		fail("invalidArgument", fmt.Errorf("key must be 32 bytes of hex"))
	}
	key, _ := btcec.PrivKeyFromBytes(keyBytes)

	script, err := hex.DecodeString(args.scriptHex)
	if err != nil || len(script) == 0 {
		fail("invalidArgument", fmt.Errorf("script must be non-empty hex"))
	}
	if _, err := swap.ParseScript(script); err != nil {
		fail("scriptError", err)
	}

	if args.txHex == "" {
		fail("invalidArgument", fmt.Errorf("funding transaction is required"))
	}

	params, err := chainParams(args.network, args.hrp)
	if err != nil {
		fail("invalidArgument", err)
	}

	decoded, err := btcutil.DecodeAddress(args.address, params)
	if err != nil {
		fail("addressError", fmt.Errorf("decode address %s: %w", args.address, err))
	}
	destScript, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		fail("addressError", err)
	}

	return key, script, destScript
}

func chainParams(network, hrp string) (*chaincfg.Params, error) {
	var base *chaincfg.Params
	switch network {
	case "mainnet", "":
		base = &chaincfg.MainNetParams
	case "testnet":
		base = &chaincfg.TestNet3Params
	case "regtest":
		base = &chaincfg.RegressionNetParams
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}

	if hrp == "" {
		return base, nil
	}
	params := *base
	params.Bech32HRPSegwit = hrp
	return &params, nil
}

func printResult(key, rawHex string) {
	out, err := json.Marshal(map[string]string{key: rawHex})
	if err != nil {
		fail("internalError", err)
	}
	fmt.Println(string(out))
}

// fail prints one "kind: message" line to stderr and exits non-zero.
func fail(kind string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", kind, err)
	os.Exit(1)
}
