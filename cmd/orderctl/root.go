package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/hyperport/params"
	"github.com/uhyunpark/hyperport/pkg/crypto"
	"github.com/uhyunpark/hyperport/pkg/settlement"
)

// rootOptions holds the signing domain shared by every command.
type rootOptions struct {
	ChainID uint64
	Engine  string
}

func (o *rootOptions) signer() (*crypto.EIP712Signer, error) {
	if !common.IsHexAddress(o.Engine) {
		return nil, fmt.Errorf("invalid engine address %q", o.Engine)
	}
	return crypto.NewEIP712Signer(crypto.NewDomain(new(big.Int).SetUint64(o.ChainID), common.HexToAddress(o.Engine)))
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	defaults := params.Default()

	cmd := &cobra.Command{
		Use:   "orderctl",
		Short: "Build, hash and sign hyperport orders",
		Long: `orderctl prepares orders for the hyperport settlement engine.

Orders are read and written as JSON in the shape the node's HTTP API
accepts (POST /api/v1/orders/validate and /api/v1/orders/cancel).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().Uint64Var(&opts.ChainID, "chain-id", defaults.Node.ChainID, "chain id of the signing domain")
	cmd.PersistentFlags().StringVar(&opts.Engine, "engine", defaults.Node.EngineAddress, "engine address (verifying contract)")

	cmd.AddCommand(newKeygenCommand())
	cmd.AddCommand(newListingCommand())
	cmd.AddCommand(newHashCommand(opts))
	cmd.AddCommand(newSignCommand(opts))
	cmd.AddCommand(newCancelCommand(opts))
	cmd.AddCommand(newCriteriaCommand())

	return cmd
}

func readOrder(path string, in io.Reader) (settlement.OrderParameters, error) {
	var p settlement.OrderParameters
	r := in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return p, err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode order: %w", err)
	}
	if !p.OrderType.Valid() {
		return p, fmt.Errorf("%w: %d", settlement.ErrInvalidOrderType, p.OrderType)
	}
	return p, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func hashOrder(signer *crypto.EIP712Signer, p settlement.OrderParameters) (*crypto.OrderEIP712, common.Hash, error) {
	components, err := settlement.ToEIP712(&p, p.Counter)
	if err != nil {
		return nil, common.Hash{}, err
	}
	hash, err := signer.HashOrder(components)
	if err != nil {
		return nil, common.Hash{}, err
	}
	return components, hash, nil
}
