package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

func testSigner(t *testing.T) *EIP712Signer {
	t.Helper()
	e, err := NewEIP712Signer(NewDomain(big.NewInt(31337), common.HexToAddress("0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC")))
	if err != nil {
		t.Fatalf("NewEIP712Signer: %v", err)
	}
	return e
}

func sampleOrder(offerer common.Address) *OrderEIP712 {
	return &OrderEIP712{
		Offerer: offerer,
		Offer: []OfferItemEIP712{{
			ItemType:             2,
			Token:                common.HexToAddress("0x1111111111111111111111111111111111111111"),
			IdentifierOrCriteria: big.NewInt(7),
			StartAmount:          big.NewInt(1),
			EndAmount:            big.NewInt(1),
		}},
		Consideration: []ConsiderationItemEIP712{
			{
				ItemType:    0,
				StartAmount: big.NewInt(900),
				EndAmount:   big.NewInt(900),
				Recipient:   offerer,
			},
			{
				ItemType:    0,
				StartAmount: big.NewInt(50),
				EndAmount:   big.NewInt(50),
				Recipient:   common.HexToAddress("0x2222222222222222222222222222222222222222"),
			},
		},
		OrderType:  0,
		StartTime:  big.NewInt(0),
		EndTime:    big.NewInt(1 << 40),
		Salt:       big.NewInt(42),
		ConduitKey: common.Hash{},
		Counter:    big.NewInt(0),
	}
}

// typedDataOrder builds the same order through the generic apitypes encoder.
func typedDataOrder(e *EIP712Signer, o *OrderEIP712) apitypes.TypedData {
	item := []apitypes.Type{
		{Name: "itemType", Type: "uint8"},
		{Name: "token", Type: "address"},
		{Name: "identifierOrCriteria", Type: "uint256"},
		{Name: "startAmount", Type: "uint256"},
		{Name: "endAmount", Type: "uint256"},
	}
	offer := make([]interface{}, 0, len(o.Offer))
	for _, it := range o.Offer {
		offer = append(offer, map[string]interface{}{
			"itemType":             "2",
			"token":                it.Token.Hex(),
			"identifierOrCriteria": it.IdentifierOrCriteria.String(),
			"startAmount":          it.StartAmount.String(),
			"endAmount":            it.EndAmount.String(),
		})
	}
	consideration := make([]interface{}, 0, len(o.Consideration))
	for _, it := range o.Consideration {
		consideration = append(consideration, map[string]interface{}{
			"itemType":             "0",
			"token":                it.Token.Hex(),
			"identifierOrCriteria": "0",
			"startAmount":          it.StartAmount.String(),
			"endAmount":            it.EndAmount.String(),
			"recipient":            it.Recipient.Hex(),
		})
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"OrderComponents": []apitypes.Type{
				{Name: "offerer", Type: "address"},
				{Name: "zone", Type: "address"},
				{Name: "offer", Type: "OfferItem[]"},
				{Name: "consideration", Type: "ConsiderationItem[]"},
				{Name: "orderType", Type: "uint8"},
				{Name: "startTime", Type: "uint256"},
				{Name: "endTime", Type: "uint256"},
				{Name: "zoneHash", Type: "bytes32"},
				{Name: "salt", Type: "uint256"},
				{Name: "conduitKey", Type: "bytes32"},
				{Name: "counter", Type: "uint256"},
			},
			"OfferItem":         item,
			"ConsiderationItem": append(append([]apitypes.Type{}, item...), apitypes.Type{Name: "recipient", Type: "address"}),
		},
		PrimaryType: "OrderComponents",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"offerer":       o.Offerer.Hex(),
			"zone":          o.Zone.Hex(),
			"offer":         offer,
			"consideration": consideration,
			"orderType":     "0",
			"startTime":     o.StartTime.String(),
			"endTime":       o.EndTime.String(),
			"zoneHash":      o.ZoneHash.Hex(),
			"salt":          o.Salt.String(),
			"conduitKey":    o.ConduitKey.Hex(),
			"counter":       o.Counter.String(),
		},
	}
}

func TestHashOrderMatchesTypedDataEncoder(t *testing.T) {
	e := testSigner(t)
	order := sampleOrder(common.HexToAddress("0x3333333333333333333333333333333333333333"))

	got, err := e.HashOrder(order)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}

	td := typedDataOrder(e, order)
	want, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		t.Fatalf("HashStruct: %v", err)
	}
	if got != common.BytesToHash(want) {
		t.Errorf("order hash = %s, want %s", got.Hex(), common.BytesToHash(want).Hex())
	}

	typeHash := td.TypeHash("OrderComponents")
	if common.BytesToHash(typeHash) != OrderTypeHash {
		t.Errorf("type hash mismatch: %x vs %s", typeHash, OrderTypeHash.Hex())
	}
}

func TestHashOrderChangesWithCounter(t *testing.T) {
	e := testSigner(t)
	order := sampleOrder(common.HexToAddress("0x3333333333333333333333333333333333333333"))
	h1, _ := e.HashOrder(order)
	order.Counter = big.NewInt(1)
	h2, _ := e.HashOrder(order)
	if h1 == h2 {
		t.Error("counter must be part of the order hash")
	}
}

func TestDomainSeparatorDependsOnChain(t *testing.T) {
	engine := common.HexToAddress("0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC")
	a, _ := NewEIP712Signer(NewDomain(big.NewInt(1), engine))
	b, _ := NewEIP712Signer(NewDomain(big.NewInt(2), engine))
	if a.DomainSeparator() == b.DomainSeparator() {
		t.Error("domain separator must depend on chain id")
	}
	if _, err := NewEIP712Signer(EIP712Domain{Name: DomainName}); err == nil {
		t.Error("nil chain id should be rejected")
	}
}

func TestSignAndRecoverOrder(t *testing.T) {
	e := testSigner(t)
	signer, _ := GenerateKey()
	order := sampleOrder(signer.Address())

	sig, err := e.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	ok, err := e.VerifyOrderSignature(order, sig)
	if err != nil || !ok {
		t.Fatalf("VerifyOrderSignature = %v, %v", ok, err)
	}

	compact, _ := ToCompact(sig)
	ok, err = e.VerifyOrderSignature(order, compact)
	if err != nil || !ok {
		t.Fatalf("compact VerifyOrderSignature = %v, %v", ok, err)
	}

	order.Salt = big.NewInt(43)
	ok, _ = e.VerifyOrderSignature(order, sig)
	if ok {
		t.Error("signature should not verify after the order changed")
	}
}

func TestCancelSignature(t *testing.T) {
	e := testSigner(t)
	signer, _ := GenerateKey()
	cancel := &CancelEIP712{
		OrderHash: common.HexToHash("0xabcdef"),
		Offerer:   signer.Address(),
		Counter:   big.NewInt(3),
	}
	digest, err := e.HashCancel(cancel)
	if err != nil {
		t.Fatalf("HashCancel: %v", err)
	}
	sig, _ := signer.Sign(digest)

	ok, err := e.VerifyCancelSignature(cancel, sig)
	if err != nil || !ok {
		t.Fatalf("VerifyCancelSignature = %v, %v", ok, err)
	}

	other, _ := GenerateKey()
	cancel.Offerer = other.Address()
	ok, _ = e.VerifyCancelSignature(cancel, sig)
	if ok {
		t.Error("cancel signed by someone else must not verify")
	}
}

func TestOrderToJSON(t *testing.T) {
	e := testSigner(t)
	js, err := e.OrderToJSON(sampleOrder(common.HexToAddress("0x3333333333333333333333333333333333333333")))
	if err != nil {
		t.Fatalf("OrderToJSON: %v", err)
	}
	for _, want := range []string{`"primaryType": "OrderComponents"`, `"ConsiderationItem"`, `"31337"`} {
		if !strings.Contains(js, want) {
			t.Errorf("JSON missing %s", want)
		}
	}
}
