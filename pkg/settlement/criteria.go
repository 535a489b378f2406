package settlement

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

func keccak(parts ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// CriteriaLeaf is the merkle leaf of a token identifier.
func CriteriaLeaf(identifier *big.Int) common.Hash {
	return keccak(common.BigToHash(identifier).Bytes())
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak(a[:], b[:])
}

func criteriaLayers(identifiers []*big.Int) [][]common.Hash {
	leaves := make([]common.Hash, len(identifiers))
	for i, id := range identifiers {
		leaves[i] = CriteriaLeaf(id)
	}
	sort.Slice(leaves, func(i, j int) bool { return bytes.Compare(leaves[i][:], leaves[j][:]) < 0 })

	layers := [][]common.Hash{leaves}
	for len(layers[len(layers)-1]) > 1 {
		prev := layers[len(layers)-1]
		next := make([]common.Hash, 0, (len(prev)+1)/2)
		for i := 0; i < len(prev); i += 2 {
			if i+1 == len(prev) {
				next = append(next, prev[i])
				continue
			}
			next = append(next, hashPair(prev[i], prev[i+1]))
		}
		layers = append(layers, next)
	}
	return layers
}

// MerkleRoot returns the criteria root committing to identifiers.
func MerkleRoot(identifiers []*big.Int) common.Hash {
	if len(identifiers) == 0 {
		return common.Hash{}
	}
	layers := criteriaLayers(identifiers)
	return layers[len(layers)-1][0]
}

// MerkleProof returns the inclusion proof of identifier in the tree built
// from identifiers.
func MerkleProof(identifiers []*big.Int, identifier *big.Int) ([]common.Hash, error) {
	layers := criteriaLayers(identifiers)
	leaf := CriteriaLeaf(identifier)
	pos := -1
	for i, l := range layers[0] {
		if l == leaf {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("identifier %s not in set", identifier)
	}
	var proof []common.Hash
	for _, layer := range layers[:len(layers)-1] {
		sibling := pos ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		pos /= 2
	}
	return proof, nil
}

// VerifyCriteriaProof checks that identifier belongs to root.
func VerifyCriteriaProof(root common.Hash, identifier *big.Int, proof []common.Hash) bool {
	computed := CriteriaLeaf(identifier)
	for _, p := range proof {
		computed = hashPair(computed, p)
	}
	return computed == root
}

// applyCriteriaResolvers turns criteria items of available orders into
// concrete items. A zero criteria root accepts any identifier.
func applyCriteriaResolvers(orders []*preparedOrder, resolvers []CriteriaResolver) error {
	for i, r := range resolvers {
		if r.OrderIndex < 0 || r.OrderIndex >= len(orders) {
			return fmt.Errorf("resolver %d: %w: order %d", i, ErrOrderCriteriaResolverOutOfRange, r.OrderIndex)
		}
		po := orders[r.OrderIndex]
		if !po.available {
			continue
		}
		identifier := bigOrZero(r.Identifier)

		var itemType *ItemType
		var criteria **big.Int
		switch r.Side {
		case SideOffer:
			if r.Index < 0 || r.Index >= len(po.params.Offer) {
				return itemErr("criteria", po.hash, po.index, r.Side, r.Index, ErrCriteriaResolverItemOutOfRange)
			}
			itemType = &po.params.Offer[r.Index].ItemType
			criteria = &po.params.Offer[r.Index].IdentifierOrCriteria
		case SideConsideration:
			if r.Index < 0 || r.Index >= len(po.params.Consideration) {
				return itemErr("criteria", po.hash, po.index, r.Side, r.Index, ErrCriteriaResolverItemOutOfRange)
			}
			itemType = &po.params.Consideration[r.Index].ItemType
			criteria = &po.params.Consideration[r.Index].IdentifierOrCriteria
		default:
			return fmt.Errorf("resolver %d: unknown side %d", i, r.Side)
		}

		if !itemType.IsCriteria() {
			return itemErr("criteria", po.hash, po.index, r.Side, r.Index, ErrCriteriaNotEnabledForItem)
		}
		root := common.BigToHash(bigOrZero(*criteria))
		switch {
		case root == (common.Hash{}):
			// a zero root accepts any identifier but takes no proof
			if len(r.CriteriaProof) > 0 {
				return itemErr("criteria", po.hash, po.index, r.Side, r.Index, ErrInvalidProof)
			}
		case !VerifyCriteriaProof(root, identifier, r.CriteriaProof):
			return itemErr("criteria", po.hash, po.index, r.Side, r.Index, ErrCriteriaNotMet)
		}
		*itemType = itemType.resolved()
		*criteria = new(big.Int).Set(identifier)
	}

	for _, po := range orders {
		if !po.available {
			continue
		}
		for j, it := range po.params.Offer {
			if it.ItemType.IsCriteria() {
				return itemErr("criteria", po.hash, po.index, SideOffer, j, ErrUnresolvedOfferCriteria)
			}
		}
		for j, it := range po.params.Consideration {
			if it.ItemType.IsCriteria() {
				return itemErr("criteria", po.hash, po.index, SideConsideration, j, ErrUnresolvedConsiderationCriteria)
			}
		}
	}
	return nil
}
