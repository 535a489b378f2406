package main

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/hyperport/pkg/api"
	"github.com/uhyunpark/hyperport/pkg/crypto"
	"github.com/uhyunpark/hyperport/pkg/settlement"
)

const keyEnv = "ORDERCTL_PRIVATE_KEY"

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"address":    signer.Address().Hex(),
				"privateKey": signer.PrivateKeyHex(),
			})
		},
	}
}

type listingOptions struct {
	Offerer      string
	NFT          string
	TokenID      string
	Currency     string
	Price        string
	Decimals     int32
	FeeBps       int64
	FeeRecipient string
	Duration     time.Duration
	Start        int64
	Counter      int64
	ConduitKey   string
	Partial      bool
}

// newListingCommand builds an ERC721 listing priced in human units. The fee
// is taken out of the price, never added on top.
func newListingCommand() *cobra.Command {
	o := &listingOptions{}
	cmd := &cobra.Command{
		Use:   "listing",
		Short: "Build an NFT listing priced in human units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.build(time.Now())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), p)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.Offerer, "offerer", "", "seller address")
	f.StringVar(&o.NFT, "nft", "", "ERC721 token address")
	f.StringVar(&o.TokenID, "token-id", "", "token id")
	f.StringVar(&o.Currency, "currency", "", "ERC20 payment token; empty for native currency")
	f.StringVar(&o.Price, "price", "", "price in whole units, e.g. 1.25")
	f.Int32Var(&o.Decimals, "decimals", 18, "decimals of the payment currency")
	f.Int64Var(&o.FeeBps, "fee-bps", 0, "marketplace fee in basis points of the price")
	f.StringVar(&o.FeeRecipient, "fee-recipient", "", "fee recipient address")
	f.DurationVar(&o.Duration, "duration", 24*time.Hour, "how long the listing is open")
	f.Int64Var(&o.Start, "start", 0, "unix start time; now when zero")
	f.Int64Var(&o.Counter, "counter", 0, "offerer counter the order is signed under")
	f.StringVar(&o.ConduitKey, "conduit-key", "", "conduit key the offerer approved, if any")
	f.BoolVar(&o.Partial, "partial", false, "allow partial fills")
	for _, name := range []string{"offerer", "nft", "token-id", "price"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (o *listingOptions) build(now time.Time) (settlement.OrderParameters, error) {
	var p settlement.OrderParameters
	if !common.IsHexAddress(o.Offerer) || !common.IsHexAddress(o.NFT) {
		return p, errors.New("offerer and nft must be addresses")
	}
	id, ok := new(big.Int).SetString(o.TokenID, 0)
	if !ok || id.Sign() < 0 {
		return p, fmt.Errorf("invalid token id %q", o.TokenID)
	}
	total, err := baseUnits(o.Price, o.Decimals)
	if err != nil {
		return p, err
	}
	if total.Sign() <= 0 {
		return p, errors.New("price must be positive")
	}
	if o.FeeBps < 0 || o.FeeBps >= 10_000 {
		return p, fmt.Errorf("fee-bps %d out of range", o.FeeBps)
	}

	itemType, currency := settlement.ItemNative, common.Address{}
	if o.Currency != "" {
		if !common.IsHexAddress(o.Currency) {
			return p, fmt.Errorf("invalid currency %q", o.Currency)
		}
		itemType, currency = settlement.ItemERC20, common.HexToAddress(o.Currency)
	}

	fee := total.Mul(decimal.NewFromInt(o.FeeBps)).Div(decimal.NewFromInt(10_000)).Floor()
	proceeds := total.Sub(fee)
	offerer := common.HexToAddress(o.Offerer)

	p.Offerer = offerer
	p.Offer = []settlement.OfferItem{{
		ItemType:             settlement.ItemERC721,
		Token:                common.HexToAddress(o.NFT),
		IdentifierOrCriteria: id,
		StartAmount:          big.NewInt(1),
		EndAmount:            big.NewInt(1),
	}}
	p.Consideration = []settlement.ConsiderationItem{payment(itemType, currency, proceeds, offerer)}
	if fee.Sign() > 0 {
		if !common.IsHexAddress(o.FeeRecipient) {
			return p, errors.New("fee-recipient is required with a fee")
		}
		p.Consideration = append(p.Consideration, payment(itemType, currency, fee, common.HexToAddress(o.FeeRecipient)))
	}

	p.OrderType = settlement.OrderFullOpen
	if o.Partial {
		p.OrderType = settlement.OrderPartialOpen
	}
	start := o.Start
	if start == 0 {
		start = now.Unix()
	}
	p.StartTime = big.NewInt(start)
	p.EndTime = big.NewInt(start + int64(o.Duration/time.Second))
	if p.Salt, err = crypto.GenerateSalt(); err != nil {
		return p, err
	}
	if o.ConduitKey != "" {
		p.ConduitKey = common.HexToHash(o.ConduitKey)
	}
	p.Counter = big.NewInt(o.Counter)
	return p, nil
}

func payment(itemType settlement.ItemType, token common.Address, amount decimal.Decimal, recipient common.Address) settlement.ConsiderationItem {
	return settlement.ConsiderationItem{
		ItemType:             itemType,
		Token:                token,
		IdentifierOrCriteria: new(big.Int),
		StartAmount:          amount.BigInt(),
		EndAmount:            amount.BigInt(),
		Recipient:            recipient,
	}
}

// baseUnits converts a human amount into integer base units.
func baseUnits(amount string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	units := d.Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return decimal.Decimal{}, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	return units, nil
}

func newHashCommand(opts *rootOptions) *cobra.Command {
	var (
		orderPath string
		digest    bool
	)
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the EIP-712 hash of an order",
		Long: `hash prints the order hash: the EIP-712 struct hash of the order
components, as the engine reports it. It does not depend on the signing
domain, so --chain-id and --engine only change the output with --digest,
which prints the domain-bound digest that gets signed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := opts.signer()
			if err != nil {
				return err
			}
			p, err := readOrder(orderPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			_, hash, err := hashOrder(signer, p)
			if err != nil {
				return err
			}
			if digest {
				hash = signer.Digest(hash)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash.Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&orderPath, "order", "o", "-", "order parameters JSON file, - for stdin")
	cmd.Flags().BoolVar(&digest, "digest", false, "print the signing digest instead of the order hash")
	return cmd
}

func loadKey(hexKey string) (*crypto.Signer, error) {
	if hexKey == "" {
		hexKey = os.Getenv(keyEnv)
	}
	if hexKey == "" {
		return nil, fmt.Errorf("no key: pass --key or set %s", keyEnv)
	}
	return crypto.FromPrivateKeyHex(hexKey)
}

func newSignCommand(opts *rootOptions) *cobra.Command {
	var orderPath, key string
	var compact bool
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an order and print a validate request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := opts.signer()
			if err != nil {
				return err
			}
			keySigner, err := loadKey(key)
			if err != nil {
				return err
			}
			p, err := readOrder(orderPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if p.Offerer == (common.Address{}) {
				p.Offerer = keySigner.Address()
			}
			if p.Offerer != keySigner.Address() {
				return fmt.Errorf("key %s is not the offerer %s", keySigner.Address().Hex(), p.Offerer.Hex())
			}

			components, hash, err := hashOrder(signer, p)
			if err != nil {
				return err
			}
			sig, err := signer.SignOrder(keySigner, components)
			if err != nil {
				return err
			}
			if compact {
				if sig, err = crypto.ToCompact(sig); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "order hash: %s\n", hash.Hex())
			return writeJSON(cmd.OutOrStdout(), api.ValidateOrdersRequest{
				Orders: []api.SignedOrder{{Parameters: p, Signature: sig}},
			})
		},
	}
	cmd.Flags().StringVarP(&orderPath, "order", "o", "-", "order parameters JSON file, - for stdin")
	cmd.Flags().StringVar(&key, "key", "", "hex private key (default $"+keyEnv+")")
	cmd.Flags().BoolVar(&compact, "compact", false, "emit a 64-byte EIP-2098 signature")
	return cmd
}

func newCancelCommand(opts *rootOptions) *cobra.Command {
	var orderPath, key string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Sign a cancel request for an order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := opts.signer()
			if err != nil {
				return err
			}
			keySigner, err := loadKey(key)
			if err != nil {
				return err
			}
			p, err := readOrder(orderPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if p.Offerer != keySigner.Address() {
				return fmt.Errorf("key %s is not the offerer %s", keySigner.Address().Hex(), p.Offerer.Hex())
			}
			_, hash, err := hashOrder(signer, p)
			if err != nil {
				return err
			}
			digest, err := signer.HashCancel(&crypto.CancelEIP712{OrderHash: hash, Offerer: p.Offerer, Counter: p.Counter})
			if err != nil {
				return err
			}
			sig, err := keySigner.Sign(digest)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.CancelOrderRequest{Parameters: p, Signature: sig})
		},
	}
	cmd.Flags().StringVarP(&orderPath, "order", "o", "-", "order parameters JSON file, - for stdin")
	cmd.Flags().StringVar(&key, "key", "", "hex private key (default $"+keyEnv+")")
	return cmd
}

type criteriaProof struct {
	Root       common.Hash   `json:"root"`
	Identifier *big.Int      `json:"identifier"`
	Proof      []common.Hash `json:"proof"`
}

func newCriteriaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "criteria",
		Short: "Merkle roots and proofs for criteria items",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "root <id>...",
		Short: "Print the criteria root of a set of token ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), settlement.MerkleRoot(ids).Hex())
			return nil
		},
	})

	var target string
	proof := &cobra.Command{
		Use:   "proof --id <id> <id>...",
		Short: "Print the inclusion proof of one id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(append(args, target))
			if err != nil {
				return err
			}
			id := ids[len(ids)-1]
			ids = ids[:len(ids)-1]
			hashes, err := settlement.MerkleProof(ids, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), criteriaProof{Root: settlement.MerkleRoot(ids), Identifier: id, Proof: hashes})
		},
	}
	proof.Flags().StringVar(&target, "id", "", "token id to prove")
	proof.MarkFlagRequired("id")
	cmd.AddCommand(proof)
	return cmd
}

func parseIDs(args []string) ([]*big.Int, error) {
	ids := make([]*big.Int, len(args))
	for i, a := range args {
		id, ok := new(big.Int).SetString(a, 0)
		if !ok || id.Sign() < 0 {
			return nil, fmt.Errorf("invalid token id %q", a)
		}
		ids[i] = id
	}
	return ids, nil
}
