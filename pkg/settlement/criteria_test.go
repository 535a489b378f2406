package settlement

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func ids(vs ...int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestMerkleProofs(t *testing.T) {
	set := ids(1, 2, 3, 5, 8, 13, 21)
	root := MerkleRoot(set)
	for _, id := range set {
		proof, err := MerkleProof(set, id)
		if err != nil {
			t.Fatal(err)
		}
		if !VerifyCriteriaProof(root, id, proof) {
			t.Errorf("proof for %v does not verify", id)
		}
	}
	proof, _ := MerkleProof(set, big.NewInt(5))
	if VerifyCriteriaProof(root, big.NewInt(4), proof) {
		t.Error("proof verified for identifier outside the set")
	}
	if _, err := MerkleProof(set, big.NewInt(4)); err == nil {
		t.Error("expected error for identifier outside the set")
	}
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	id := big.NewInt(42)
	if MerkleRoot([]*big.Int{id}) != CriteriaLeaf(id) {
		t.Fatal("single-leaf root should be the leaf")
	}
	if !VerifyCriteriaProof(CriteriaLeaf(id), id, nil) {
		t.Fatal("empty proof should verify against the leaf")
	}
}

func criteriaOrder(root common.Hash) *preparedOrder {
	return &preparedOrder{
		available: true,
		params: OrderParameters{
			Offer: []OfferItem{{
				ItemType:             ItemERC721WithCriteria,
				IdentifierOrCriteria: root.Big(),
				StartAmount:          big.NewInt(1),
				EndAmount:            big.NewInt(1),
			}},
		},
	}
}

func TestApplyCriteriaResolvers(t *testing.T) {
	set := ids(10, 11, 12)
	root := MerkleRoot(set)
	proof, err := MerkleProof(set, big.NewInt(11))
	if err != nil {
		t.Fatal(err)
	}

	po := criteriaOrder(root)
	err = applyCriteriaResolvers([]*preparedOrder{po}, []CriteriaResolver{{
		Side: SideOffer, Identifier: big.NewInt(11), CriteriaProof: proof,
	}})
	if err != nil {
		t.Fatal(err)
	}
	item := po.params.Offer[0]
	if item.ItemType != ItemERC721 || item.IdentifierOrCriteria.Int64() != 11 {
		t.Fatalf("item not resolved: %+v", item)
	}

	po = criteriaOrder(root)
	err = applyCriteriaResolvers([]*preparedOrder{po}, []CriteriaResolver{{
		Side: SideOffer, Identifier: big.NewInt(99), CriteriaProof: proof,
	}})
	if !errors.Is(err, ErrCriteriaNotMet) {
		t.Fatalf("got %v, want ErrCriteriaNotMet", err)
	}
}

func TestApplyCriteriaResolversWildcard(t *testing.T) {
	po := criteriaOrder(common.Hash{})
	err := applyCriteriaResolvers([]*preparedOrder{po}, []CriteriaResolver{{Side: SideOffer, Identifier: big.NewInt(777)}})
	if err != nil {
		t.Fatal(err)
	}
	if po.params.Offer[0].IdentifierOrCriteria.Int64() != 777 {
		t.Fatalf("identifier = %v", po.params.Offer[0].IdentifierOrCriteria)
	}

	withProof := criteriaOrder(common.Hash{})
	err = applyCriteriaResolvers([]*preparedOrder{withProof}, []CriteriaResolver{{
		Side:          SideOffer,
		Identifier:    big.NewInt(777),
		CriteriaProof: []common.Hash{common.HexToHash("0x01")},
	}})
	if !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("proof against a wildcard root: got %v", err)
	}
	if !withProof.params.Offer[0].ItemType.IsCriteria() {
		t.Errorf("item resolved despite the rejected proof")
	}
}

func TestApplyCriteriaResolversErrors(t *testing.T) {
	if err := applyCriteriaResolvers([]*preparedOrder{criteriaOrder(common.Hash{})}, nil); !errors.Is(err, ErrUnresolvedOfferCriteria) {
		t.Errorf("unresolved: got %v", err)
	}
	err := applyCriteriaResolvers([]*preparedOrder{criteriaOrder(common.Hash{})}, []CriteriaResolver{{OrderIndex: 3}})
	if !errors.Is(err, ErrOrderCriteriaResolverOutOfRange) {
		t.Errorf("order out of range: got %v", err)
	}
	err = applyCriteriaResolvers([]*preparedOrder{criteriaOrder(common.Hash{})}, []CriteriaResolver{{Side: SideConsideration}})
	if !errors.Is(err, ErrCriteriaResolverItemOutOfRange) {
		t.Errorf("item out of range: got %v", err)
	}

	po := criteriaOrder(common.Hash{})
	po.params.Offer[0].ItemType = ItemERC721
	err = applyCriteriaResolvers([]*preparedOrder{po}, []CriteriaResolver{{Side: SideOffer, Identifier: big.NewInt(1)}})
	if !errors.Is(err, ErrCriteriaNotEnabledForItem) {
		t.Errorf("non-criteria item: got %v", err)
	}
	var oe *OrderError
	if !errors.As(err, &oe) || oe.Side != SideOffer || oe.ItemIndex != 0 {
		t.Errorf("expected OrderError pointing at offer item 0, got %v", err)
	}
}

func TestContractOrderHash(t *testing.T) {
	offerer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	h0 := ContractOrderHash(offerer, big.NewInt(0))
	h1 := ContractOrderHash(offerer, big.NewInt(1))
	if h0 == h1 {
		t.Fatal("hash must change with the nonce")
	}
	if common.BytesToAddress(h1[:20]) != offerer {
		t.Errorf("high bytes = %x", h1[:20])
	}
	if h1[31] != 1 {
		t.Errorf("low byte = %d", h1[31])
	}
}

func TestCheckGeneratedOrder(t *testing.T) {
	tok := common.HexToAddress("0x2222222222222222222222222222222222222222")
	minimum := []SpentItem{{ItemType: ItemERC20, Token: tok, Identifier: big.NewInt(0), Amount: big.NewInt(10)}}
	maximum := []SpentItem{{ItemType: ItemERC20, Token: tok, Identifier: big.NewInt(0), Amount: big.NewInt(5)}}
	consideration := []ReceivedItem{{ItemType: ItemERC20, Token: tok, Identifier: big.NewInt(0), Amount: big.NewInt(5)}}

	if err := checkGeneratedOrder(minimum, maximum, []SpentItem{{ItemType: ItemERC20, Token: tok, Identifier: big.NewInt(0), Amount: big.NewInt(12)}}, consideration); err != nil {
		t.Errorf("valid generated order rejected: %v", err)
	}
	if err := checkGeneratedOrder(minimum, maximum, []SpentItem{{ItemType: ItemERC20, Token: tok, Identifier: big.NewInt(0), Amount: big.NewInt(9)}}, consideration); err == nil {
		t.Error("short offer accepted")
	}
	over := []ReceivedItem{{ItemType: ItemERC20, Token: tok, Identifier: big.NewInt(0), Amount: big.NewInt(6)}}
	if err := checkGeneratedOrder(minimum, maximum, minimum, over); err == nil {
		t.Error("excess consideration accepted")
	}
	if err := checkGeneratedOrder(minimum, maximum, minimum, append(consideration, consideration...)); err == nil {
		t.Error("extra consideration item accepted")
	}
}
