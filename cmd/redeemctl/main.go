package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/config"
)

var (
	serverFlag = &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Redeem server base URL",
		Value:   "http://localhost:8080",
		EnvVars: []string{"REDEEM_SERVER_URL"},
	}
	epochFlag = &cli.Uint64Flag{
		Name:     "epoch",
		Aliases:  []string{"e"},
		Usage:    "Epoch number",
		Required: true,
	}
	leafEncodingFlag = &cli.StringFlag{
		Name:    "leaf-encoding",
		Usage:   "Leaf encoding: packed or epoch-bound",
		Value:   config.LeafEncodingPacked,
		EnvVars: []string{config.EnvRedeemLeafEncoding},
	}
	proofsFileFlag = &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "Proofs file (defaults to proof_epoch_<N>.json in --dir)",
	}
	proofsDirFlag = &cli.StringFlag{
		Name:  "dir",
		Usage: "Directory holding proof_epoch_<N>.json files",
		Value: ".",
	}
	adminKeyFlag = &cli.StringFlag{
		Name:     "private-key",
		Aliases:  []string{"key"},
		Usage:    "Hex ECDSA key of the administrator",
		EnvVars:  []string{"REDEEM_ADMIN_PRIVATE_KEY"},
		Required: true,
	}
	addressFlag = &cli.StringFlag{
		Name:     "address",
		Aliases:  []string{"a"},
		Usage:    "Recipient address",
		Required: true,
	}
)

func main() {
	app := &cli.App{
		Name:  "redeemctl",
		Usage: "Build distributions and drive a merkle redeem server",
		Description: `Tooling around the merkle redeem server.

Builds an epoch's merkle root and per-recipient proofs from a list of
allocations, seeds epochs and transfers ownership with signed admin requests,
and submits or checks claims.`,
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "distribution",
				Usage: "Build or check proofs files offline",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "Build root and proofs from a [{address, claimBalance}] JSON file",
						Flags: []cli.Flag{
							epochFlag,
							&cli.StringFlag{
								Name:     "input",
								Aliases:  []string{"i"},
								Usage:    "Allocations JSON file",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "out-dir",
								Usage: "Directory the proofs file is written to",
								Value: ".",
							},
							leafEncodingFlag,
						},
						Action: distributionCreateCommand,
					},
					{
						Name:  "verify",
						Usage: "Check every record of a proofs file against a root",
						Flags: []cli.Flag{
							epochFlag,
							proofsFileFlag,
							proofsDirFlag,
							&cli.StringFlag{
								Name:     "root",
								Usage:    "Expected merkle root",
								Required: true,
							},
							leafEncodingFlag,
						},
						Action: distributionVerifyCommand,
					},
				},
			},
			{
				Name:  "seed",
				Usage: "Publish an epoch root (admin)",
				Flags: []cli.Flag{
					serverFlag,
					adminKeyFlag,
					epochFlag,
					proofsFileFlag,
					proofsDirFlag,
					&cli.StringFlag{
						Name:  "root",
						Usage: "Merkle root; derived from the proofs file when omitted",
					},
					&cli.StringFlag{
						Name:  "total",
						Usage: "Total allocated; derived from the proofs file when omitted",
					},
					leafEncodingFlag,
				},
				Action: seedCommand,
			},
			{
				Name:  "owner",
				Usage: "Show or transfer administration",
				Subcommands: []*cli.Command{
					{
						Name:   "get",
						Usage:  "Print the current owner",
						Flags:  []cli.Flag{serverFlag},
						Action: ownerGetCommand,
					},
					{
						Name:  "transfer",
						Usage: "Hand administration to a new address (admin)",
						Flags: []cli.Flag{
							serverFlag,
							adminKeyFlag,
							&cli.StringFlag{
								Name:     "new-owner",
								Usage:    "Address of the new owner",
								Required: true,
							},
						},
						Action: ownerTransferCommand,
					},
				},
			},
			{
				Name:   "claim",
				Usage:  "Claim one epoch for an address using its proofs file",
				Flags:  []cli.Flag{serverFlag, epochFlag, addressFlag, proofsFileFlag, proofsDirFlag},
				Action: claimCommand,
			},
			{
				Name:  "claim-batch",
				Usage: "Claim several epochs in one payout",
				Flags: []cli.Flag{
					serverFlag,
					addressFlag,
					proofsDirFlag,
					&cli.Uint64SliceFlag{
						Name:     "epochs",
						Usage:    "Epochs to claim, e.g. --epochs 1,2,3",
						Required: true,
					},
				},
				Action: claimBatchCommand,
			},
			{
				Name:   "verify",
				Usage:  "Ask the server whether a claim would verify",
				Flags:  []cli.Flag{serverFlag, epochFlag, addressFlag, proofsFileFlag, proofsDirFlag},
				Action: verifyCommand,
			},
			{
				Name:   "claimed",
				Usage:  "Show whether an address has claimed an epoch",
				Flags:  []cli.Flag{serverFlag, epochFlag, addressFlag},
				Action: claimedCommand,
			},
			{
				Name:  "roots",
				Usage: "List roots for an inclusive epoch range",
				Flags: []cli.Flag{
					serverFlag,
					&cli.Uint64Flag{Name: "start", Required: true},
					&cli.Uint64Flag{Name: "end", Required: true},
				},
				Action: rootsCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
