package attribution

import (
	"bytes"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	erc721SafeTransferSelector  = "0xb88d4fde"
	erc1155SafeTransferSelector = "0xf242432a"
)

const relayABIJSON = `[
	{"type":"function","name":"execute","inputs":[
		{"name":"req","type":"tuple","components":[
			{"name":"from","type":"address"},
			{"name":"to","type":"address"},
			{"name":"value","type":"uint256"},
			{"name":"gas","type":"uint256"},
			{"name":"nonce","type":"uint256"},
			{"name":"data","type":"bytes"}]},
		{"name":"signature","type":"bytes"}]},
	{"type":"function","name":"executeMetaTransaction","inputs":[
		{"name":"userAddress","type":"address"},
		{"name":"functionSignature","type":"bytes"},
		{"name":"sigR","type":"bytes32"},
		{"name":"sigS","type":"bytes32"},
		{"name":"sigV","type":"uint8"}]}
]`

const erc721ABIJSON = `[
	{"type":"function","name":"safeTransferFrom","inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"tokenId","type":"uint256"},
		{"name":"data","type":"bytes"}]}
]`

const erc1155ABIJSON = `[
	{"type":"function","name":"safeTransferFrom","inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"id","type":"uint256"},
		{"name":"value","type":"uint256"},
		{"name":"data","type":"bytes"}]}
]`

var (
	relayABI   = mustParseABI(relayABIJSON)
	erc721ABI  = mustParseABI(erc721ABIJSON)
	erc1155ABI = mustParseABI(erc1155ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

func decodeCall(contract abi.ABI, name, data string) ([]interface{}, bool) {
	raw, err := hexutil.Decode(data)
	if err != nil || len(raw) < 4 {
		return nil, false
	}
	method, ok := contract.Methods[name]
	if !ok || !bytes.Equal(method.ID, raw[:4]) {
		return nil, false
	}
	values, err := method.Inputs.Unpack(raw[4:])
	if err != nil {
		return nil, false
	}
	return values, true
}

func addressHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// unwrapNested returns the call a relay transaction carries: the request of
// an ERC-2771 forwarder execute, or the signed call of an
// executeMetaTransaction.
func unwrapNested(tx *Transaction) (*Transaction, bool) {
	if values, ok := decodeCall(relayABI, "execute", tx.Data); ok && len(values) == 2 {
		req := reflect.ValueOf(values[0])
		if req.Kind() != reflect.Struct {
			return nil, false
		}
		from, okFrom := structField(req, "From").(common.Address)
		to, okTo := structField(req, "To").(common.Address)
		data, okData := structField(req, "Data").([]byte)
		if !okFrom || !okTo || !okData {
			return nil, false
		}
		return &Transaction{Hash: tx.Hash, From: addressHex(from), To: addressHex(to), Data: hexutil.Encode(data)}, true
	}

	if values, ok := decodeCall(relayABI, "executeMetaTransaction", tx.Data); ok && len(values) == 5 {
		user, okUser := values[0].(common.Address)
		data, okData := values[1].([]byte)
		if !okUser || !okData {
			return nil, false
		}
		return &Transaction{Hash: tx.Hash, From: addressHex(user), To: tx.To, Data: hexutil.Encode(data)}, true
	}

	return nil, false
}

func structField(v reflect.Value, name string) interface{} {
	f := v.FieldByName(name)
	if !f.IsValid() || !f.CanInterface() {
		return nil
	}
	return f.Interface()
}

// transferRecipient returns the recipient of an ERC-721 or ERC-1155
// safeTransferFrom, which fills bids by sending tokens straight to a router.
func transferRecipient(data string) (string, bool) {
	var values []interface{}
	var ok bool
	switch {
	case strings.HasPrefix(data, erc721SafeTransferSelector):
		values, ok = decodeCall(erc721ABI, "safeTransferFrom", data)
	case strings.HasPrefix(data, erc1155SafeTransferSelector):
		values, ok = decodeCall(erc1155ABI, "safeTransferFrom", data)
	}
	if !ok || len(values) < 2 {
		return "", false
	}
	to, isAddr := values[1].(common.Address)
	if !isAddr {
		return "", false
	}
	return addressHex(to), true
}

// sliceFromEnd returns s[len-from : len-to], clamping both bounds at zero
func sliceFromEnd(s string, from, to int) string {
	start := len(s) - from
	if start < 0 {
		start = 0
	}
	end := len(s) - to
	if end < 0 {
		end = 0
	}
	if start >= end {
		return ""
	}
	return s[start:end]
}

// lastDomainHash is the tag in the final 4 bytes of calldata
func lastDomainHash(data string) string {
	return "0x" + sliceFromEnd(data, 8, 0)
}

// precedingDomainHash is the tag in the 4 bytes before the final tag
func precedingDomainHash(data string) string {
	return "0x" + sliceFromEnd(data, 16, 8)
}
