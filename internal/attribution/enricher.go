package attribution

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/chain-indexer/internal/errors"
)

// fillRow is the part of a replicated fill_events_2 row attribution needs
type fillRow struct {
	TxHash    string `json:"tx_hash"`
	OrderKind string `json:"order_kind"`
	OrderID   string `json:"order_id"`
	Contract  string `json:"contract"`
}

// FillEnricher tags replicated fill events with their attribution
type FillEnricher struct {
	attributor *Attributor
}

// NewFillEnricher creates a FillEnricher
func NewFillEnricher(attributor *Attributor) *FillEnricher {
	return &FillEnricher{attributor: attributor}
}

// Enrich returns the orderSource, fillSource, aggregatorSource and taker tags
// of a fill row. Rows without a transaction hash get no tags.
func (e *FillEnricher) Enrich(ctx context.Context, row json.RawMessage) (map[string]interface{}, error) {
	var fill fillRow
	if err := json.Unmarshal(row, &fill); err != nil {
		return nil, apperrors.NewDataShapeError("fill row", err)
	}

	txHash, err := decodeBytea(fill.TxHash)
	if err != nil {
		return nil, apperrors.NewDataShapeError("fill tx_hash", err)
	}
	if txHash == "" {
		return nil, nil
	}
	contract, err := decodeBytea(fill.Contract)
	if err != nil {
		return nil, apperrors.NewDataShapeError("fill contract", err)
	}

	res, err := e.attributor.Extract(ctx, txHash, fill.OrderKind, Options{Address: contract, OrderID: fill.OrderID})
	if err != nil {
		return nil, err
	}

	tags := map[string]interface{}{}
	if res.OrderSource != nil {
		tags["orderSource"] = res.OrderSource.Domain
	}
	if res.FillSource != nil {
		tags["fillSource"] = res.FillSource.Domain
	}
	if res.AggregatorSource != nil {
		tags["aggregatorSource"] = res.AggregatorSource.Domain
	}
	if res.Taker != "" {
		tags["taker"] = res.Taker
	}
	if res.TakerNonce != nil {
		tags["takerNonce"] = *res.TakerNonce
	}
	return tags, nil
}

// decodeBytea renders a replicated bytea column as 0x-prefixed hex. Columns
// arrive as base64 by default, or as hex depending on the connector's binary
// handling mode.
func decodeBytea(v string) (string, error) {
	switch {
	case v == "":
		return "", nil
	case strings.HasPrefix(v, `\x`):
		return "0x" + strings.ToLower(v[2:]), nil
	case strings.HasPrefix(v, "0x"), strings.HasPrefix(v, "0X"):
		return "0x" + strings.ToLower(v[2:]), nil
	}

	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", fmt.Errorf("bytea %q is neither hex nor base64: %w", v, err)
	}
	return "0x" + hex.EncodeToString(raw), nil
}
