package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/identikit/go-identity-sdk/chain"
	"github.com/identikit/go-identity-sdk/chainclient"
	"github.com/identikit/go-identity-sdk/chainerr"
	"github.com/identikit/go-identity-sdk/credential"
	"github.com/identikit/go-identity-sdk/didchain"
	"github.com/identikit/go-identity-sdk/didkey"
	"github.com/identikit/go-identity-sdk/internal/log"
	"github.com/identikit/go-identity-sdk/signer"
	"github.com/identikit/go-identity-sdk/txn"
	"github.com/identikit/go-identity-sdk/zkproof"
)

func main() {
	app := cli.Command{
		Name:  "idcli",
		Usage: "client tool for DID and zero-knowledge credential operations",
	}
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "gateway",
			Usage:   "JSON-RPC gateway endpoint; empty runs against an in-process simulated chain",
			Sources: cli.EnvVars("IDCLI_GATEWAY"),
		},
		&cli.StringFlag{
			Name:    "log-spec",
			Usage:   "log levels, e.g. 'debug' or 'txn=debug:info'",
			Value:   "info",
			Sources: cli.EnvVars("IDCLI_LOG_SPEC"),
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "attempts for retryable network failures",
			Value: 1,
		},
	}
	app.Before = func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		return ctx, log.SetSpec(cmd.String("log-spec"))
	}
	app.Commands = []*cli.Command{
		{
			Name:      "derive",
			Usage:     "derive the did:key identifier for an account address",
			ArgsUsage: "<address>",
			Action:    runDerive,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "document",
					Usage: "print the full DID document instead of the bare DID",
				},
			},
		},
		{
			Name:      "resolve",
			Usage:     "resolve a DID document; did:key resolves locally, did:substrate against the chain",
			ArgsUsage: "<did>",
			Action:    runResolve,
		},
		{
			Name:   "register",
			Usage:  "register a DID on chain and wait for finalization",
			Action: runRegister,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "seed",
					Usage:   "ed25519 seed as 64 hex characters; omit to generate a fresh account",
					Sources: cli.EnvVars("IDCLI_SEED"),
				},
				&cli.StringFlag{
					Name:  "controller",
					Usage: "controller DID; defaults to the registered DID itself",
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Usage: "confirmation timeout; zero uses the default",
				},
			},
		},
		{
			Name:      "exists",
			Usage:     "check whether a DID is registered on chain",
			ArgsUsage: "<did>",
			Action:    runExists,
		},
		{
			Name:   "fee",
			Usage:  "estimate the registration fee for a DID",
			Action: runFee,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "seed",
					Usage:   "ed25519 seed as 64 hex characters; omit to generate a fresh account",
					Sources: cli.EnvVars("IDCLI_SEED"),
				},
			},
		},
		{
			Name:      "prove",
			Usage:     "generate a zero-knowledge proof from credential files",
			ArgsUsage: "<credential.json> [more...]",
			Action:    runProve,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "circuit",
					Usage: "circuit id",
					Value: zkproof.CircuitAgeVerification,
				},
				&cli.IntFlag{
					Name:  "min-age",
					Usage: "minimum age threshold for the age circuit",
					Value: zkproof.DefaultMinimumAge,
				},
				&cli.StringFlag{
					Name:  "group",
					Usage: "group identifier for the membership circuit",
				},
			},
		},
		{
			Name:      "verify",
			Usage:     "verify a zero-knowledge proof (reads the proof JSON from a file or stdin)",
			ArgsUsage: "[proof.json]",
			Action:    runVerify,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "signal",
					Usage: "expected public signal; computed from --min-age or --group when empty",
				},
				&cli.IntFlag{
					Name:  "min-age",
					Usage: "recompute the expected age signal for this threshold",
				},
				&cli.StringFlag{
					Name:  "group",
					Usage: "recompute the expected membership signal for this group",
				},
			},
		},
		{
			Name:      "inspect",
			Usage:     "parse a credential and print its summary with the content fingerprint",
			ArgsUsage: "[credential.json]",
			Action:    runInspect,
		},
		{
			Name:   "circuits",
			Usage:  "list the available proving circuits",
			Action: runCircuits,
		},
		{
			Name:   "keygen",
			Usage:  "generate a fresh ed25519 account and print its seed, address and DID",
			Action: runKeygen,
		},
		{
			Name:   "simnode",
			Usage:  "run the simulated chain as a JSON-RPC node",
			Action: runSimNode,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "bind",
					Usage:   "HTTP server listen address",
					Value:   ":9944",
					Sources: cli.EnvVars("IDCLI_BIND"),
				},
				&cli.StringFlag{
					Name:    "metrics-addr",
					Usage:   "metrics HTTP server listen address",
					Value:   ":9464",
					Sources: cli.EnvVars("IDCLI_METRICS_ADDR"),
				},
				&cli.DurationFlag{
					Name:  "block-delay",
					Usage: "pause between status transitions of a submitted extrinsic",
					Value: 500 * time.Millisecond,
				},
			},
		},
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Println("Error:", err)
		os.Exit(-1)
	}
}

// dialChain connects to the configured gateway, or to a fresh in-process
// simulated chain when none is set. Connecting is the one network step the
// CLI opts into retrying.
func dialChain(ctx context.Context, cmd *cli.Command) (chainclient.Client, func(), error) {
	var client chainclient.Client
	if endpoint := cmd.String("gateway"); endpoint != "" {
		gw, err := chainclient.NewGateway(endpoint)
		if err != nil {
			return nil, nil, err
		}
		client = gw
	} else {
		client = chainclient.NewSim()
	}
	err := chainerr.Retry(ctx, cmd.Int("retries"), func() error {
		_, err := client.Connect(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return client, func() { client.Disconnect() }, nil
}

func loadSigner(cmd *cli.Command) (signer.Signer, string, error) {
	if seedHex := cmd.String("seed"); seedHex != "" {
		seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
		if err != nil {
			return nil, "", fmt.Errorf("invalid seed: %w", err)
		}
		kr, err := signer.NewEd25519Keyring(seed, chain.Substrate())
		return kr, "", err
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, "", err
	}
	kr, err := signer.NewEd25519Keyring(seed, chain.Substrate())
	if err != nil {
		return nil, "", err
	}
	return kr, hex.EncodeToString(seed), nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runDerive(ctx context.Context, cmd *cli.Command) error {
	address := cmd.Args().First()
	if address == "" {
		return fmt.Errorf("need to provide an account address as an argument")
	}

	method := didkey.New(chain.Substrate())
	if cmd.Bool("document") {
		doc, err := method.CreateDocument(address)
		if err != nil {
			return err
		}
		return printJSON(doc)
	}
	didStr, err := method.Derive(address)
	if err != nil {
		return err
	}
	fmt.Println(didStr)
	return nil
}

func runResolve(ctx context.Context, cmd *cli.Command) error {
	didStr := cmd.Args().First()
	if didStr == "" {
		return fmt.Errorf("need to provide a DID as an argument")
	}

	if strings.HasPrefix(didStr, didkey.Prefix) {
		doc, err := didkey.Resolve(didStr)
		if err != nil {
			return err
		}
		return printJSON(doc)
	}

	client, cleanup, err := dialChain(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	doc, err := didchain.NewRegistry(client).Resolve(ctx, didStr)
	if err != nil {
		return err
	}
	return printJSON(doc)
}

func runRegister(ctx context.Context, cmd *cli.Command) error {
	kr, generatedSeed, err := loadSigner(cmd)
	if err != nil {
		return err
	}

	client, cleanup, err := dialChain(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var waitOpts []txn.WaitOption
	if d := cmd.Duration("timeout"); d > 0 {
		waitOpts = append(waitOpts, txn.WithTimeout(d))
	}

	res, err := didchain.NewRegistry(client).Register(ctx, didchain.RegisterRequest{
		Controller: cmd.String("controller"),
	}, kr, waitOpts...)
	if err != nil {
		return err
	}
	if generatedSeed != "" {
		fmt.Fprintf(os.Stderr, "generated signer seed: %s\n", generatedSeed)
	}
	return printJSON(res)
}

func runExists(ctx context.Context, cmd *cli.Command) error {
	didStr := cmd.Args().First()
	if didStr == "" {
		return fmt.Errorf("need to provide a DID as an argument")
	}

	client, cleanup, err := dialChain(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ok, err := didchain.NewRegistry(client).Exists(ctx, didStr)
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}

func runFee(ctx context.Context, cmd *cli.Command) error {
	kr, _, err := loadSigner(cmd)
	if err != nil {
		return err
	}

	client, cleanup, err := dialChain(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	fee, err := didchain.NewRegistry(client).CalculateFee(ctx, didchain.RegisterRequest{}, kr.Address())
	if err != nil {
		return err
	}
	return printJSON(fee)
}

func runProve(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("need to provide at least one credential file")
	}

	creds := make([]credential.Credential, 0, cmd.Args().Len())
	for _, path := range cmd.Args().Slice() {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		cred, err := credential.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		creds = append(creds, cred)
	}

	proof, err := zkproof.NewService().GenerateProof(ctx, cmd.String("circuit"), zkproof.ProofParams{
		MinAge:  cmd.Int("min-age"),
		GroupID: cmd.String("group"),
	}, creds)
	if err != nil {
		return err
	}
	return printJSON(proof)
}

func runVerify(ctx context.Context, cmd *cli.Command) error {
	raw, err := readArgOrStdin(cmd)
	if err != nil {
		return err
	}
	var proof zkproof.ZKProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return err
	}

	signal := cmd.String("signal")
	switch {
	case signal != "":
	case cmd.Int("min-age") > 0:
		signal, err = zkproof.AgeSignal(cmd.Int("min-age"), true)
	case cmd.String("group") != "":
		signal, err = zkproof.MembershipSignal(cmd.String("group"), true)
	default:
		return fmt.Errorf("need --signal, --min-age or --group to know the expected signal")
	}
	if err != nil {
		return err
	}

	if !zkproof.NewService().VerifyProof(ctx, &proof, signal, "") {
		return fmt.Errorf("proof did not verify")
	}
	fmt.Println("valid")
	return nil
}

func readArgOrStdin(cmd *cli.Command) ([]byte, error) {
	if path := cmd.Args().First(); path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(os.Stdin)
}

func runInspect(ctx context.Context, cmd *cli.Command) error {
	raw, err := readArgOrStdin(cmd)
	if err != nil {
		return err
	}
	cred, err := credential.Parse(raw)
	if err != nil {
		return err
	}
	fp, err := cred.Fingerprint()
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"id":           cred.ID(),
		"type":         cred.Types(),
		"issuer":       cred.IssuerID(),
		"issuanceDate": cred.IssuanceDate(),
		"subject":      cred.SubjectID(),
		"fingerprint":  hex.EncodeToString(fp),
	})
}

func runCircuits(ctx context.Context, cmd *cli.Command) error {
	return printJSON(zkproof.Circuits())
}

func runKeygen(ctx context.Context, cmd *cli.Command) error {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return err
	}
	kr, err := signer.NewEd25519Keyring(seed, chain.Substrate())
	if err != nil {
		return err
	}
	didStr, err := didkey.New(chain.Substrate()).Derive(kr.Address())
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"seed":    hex.EncodeToString(seed),
		"address": kr.Address(),
		"did":     didStr,
	})
}

func runSimNode(ctx context.Context, cmd *cli.Command) error {
	otelShutdown, err := setupOTel(ctx)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer otelShutdown(context.Background())

	sim := chainclient.NewSim(chainclient.WithBlockDelay(cmd.Duration("block-delay")))
	if _, err := sim.Connect(ctx); err != nil {
		return err
	}
	node := chainclient.NewNode(sim, cmd.String("bind"))

	g, _ := errgroup.WithContext(ctx)
	g.Go(node.Run)
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		return http.ListenAndServe(cmd.String("metrics-addr"), mux)
	})
	return g.Wait()
}
