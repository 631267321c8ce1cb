package models

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Source is a marketplace, aggregator or router operator, keyed by domain
type Source struct {
	ID         int64  `json:"id" db:"id"`
	Domain     string `json:"domain" db:"domain"`
	DomainHash string `json:"domainHash" db:"domain_hash"`
	Name       string `json:"name" db:"name"`
}

// Router is a contract that fills orders on behalf of a source
type Router struct {
	Address  string `json:"address" db:"address"`
	SourceID int64  `json:"sourceId" db:"source_id"`
}

// DomainHash is the 4-byte tag fillers append to calldata: the first four
// bytes of keccak256(domain), 0x-prefixed.
func DomainHash(domain string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(domain))[:4])
}
